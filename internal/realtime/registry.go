package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketGetter is the slice of the ticket store the registry needs for join
// authorization.
type TicketGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
}

// Registry maps ticket id to the set of sessions subscribed to that ticket's
// room. Membership is per connection, not per user. Join authorizes against
// the ticket record; Leave is idempotent; LeaveAll cleans up after a dropped
// connection.
type Registry struct {
	mu           sync.RWMutex
	rooms        map[string]map[string]*Client
	tickets      TicketGetter
	storeTimeout time.Duration
}

// NewRegistry builds a registry backed by the given ticket store.
func NewRegistry(tickets TicketGetter, storeTimeout time.Duration) *Registry {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Registry{
		rooms:        make(map[string]map[string]*Client),
		tickets:      tickets,
		storeTimeout: storeTimeout,
	}
}

// Join subscribes the session to a ticket room. Only the ticket's creator,
// its assigned member, or an admin may join.
func (r *Registry) Join(ctx context.Context, ticketID string, c *Client) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	ticket, err := r.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	if !ticket.AccessibleBy(c.UserID, c.Role) {
		return apperrors.NewForbidden("not authorized to view this ticket")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[ticketID] == nil {
		r.rooms[ticketID] = make(map[string]*Client)
	}
	r.rooms[ticketID][c.ID] = c
	return nil
}

// Leave removes the session from a ticket room. Idempotent.
func (r *Registry) Leave(ticketID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(ticketID, c)
}

// LeaveAll removes a session from every room it joined. Called by the
// transport layer when a connection drops.
func (r *Registry) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ticketID, members := range r.rooms {
		if _, ok := members[c.ID]; ok {
			r.leaveLocked(ticketID, c)
		}
	}
}

// MembersOf returns a snapshot of the sessions currently in a ticket's room.
func (r *Registry) MembersOf(ticketID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[ticketID]
	result := make([]*Client, 0, len(members))
	for _, c := range members {
		result = append(result, c)
	}
	return result
}

func (r *Registry) leaveLocked(ticketID string, c *Client) {
	members := r.rooms[ticketID]
	if members == nil {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.rooms, ticketID)
	}
}
