package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type staticTicketGetter struct {
	tickets map[string]*domain.Ticket
}

func (s *staticTicketGetter) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return ticket, nil
}

func newTestRegistry() (*Registry, *staticTicketGetter) {
	getter := &staticTicketGetter{tickets: make(map[string]*domain.Ticket)}
	return NewRegistry(getter, time.Second), getter
}

func assignedTicket(id, creatorID, memberID string) *domain.Ticket {
	return &domain.Ticket{
		ID:         id,
		CreatorID:  creatorID,
		Status:     domain.TicketStatusAssigned,
		AssigneeID: &memberID,
	}
}

func TestRegistryJoinAuthorization(t *testing.T) {
	registry, getter := newTestRegistry()
	getter.tickets["t1"] = assignedTicket("t1", "u1", "m1")

	creator := NewClient("s1", "u1", domain.RoleUser, 8)
	assignee := NewClient("s2", "m1", domain.RoleMember, 8)
	admin := NewClient("s3", "a1", domain.RoleAdmin, 8)
	stranger := NewClient("s4", "u2", domain.RoleUser, 8)
	otherMember := NewClient("s5", "m2", domain.RoleMember, 8)

	for _, c := range []*Client{creator, assignee, admin} {
		if err := registry.Join(context.Background(), "t1", c); err != nil {
			t.Fatalf("Join(%s): %v", c.UserID, err)
		}
	}
	if err := registry.Join(context.Background(), "t1", stranger); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("stranger join = %v, want forbidden", err)
	}
	if err := registry.Join(context.Background(), "t1", otherMember); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("unassigned member join = %v, want forbidden", err)
	}
	if err := registry.Join(context.Background(), "missing", creator); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("join missing ticket = %v, want not found", err)
	}

	if got := len(registry.MembersOf("t1")); got != 3 {
		t.Fatalf("room size = %d, want 3", got)
	}
}

func TestRegistryLeave(t *testing.T) {
	registry, getter := newTestRegistry()
	getter.tickets["t1"] = assignedTicket("t1", "u1", "m1")

	c := NewClient("s1", "u1", domain.RoleUser, 8)
	if err := registry.Join(context.Background(), "t1", c); err != nil {
		t.Fatalf("Join: %v", err)
	}

	registry.Leave("t1", c)
	if got := len(registry.MembersOf("t1")); got != 0 {
		t.Fatalf("room size after leave = %d, want 0", got)
	}
	// leaving twice must not panic
	registry.Leave("t1", c)
}

func TestRegistryLeaveAll(t *testing.T) {
	registry, getter := newTestRegistry()
	getter.tickets["t1"] = assignedTicket("t1", "u1", "m1")
	getter.tickets["t2"] = assignedTicket("t2", "u1", "m2")

	c := NewClient("s1", "u1", domain.RoleUser, 8)
	peer := NewClient("s2", "m1", domain.RoleMember, 8)
	for _, ticketID := range []string{"t1", "t2"} {
		if err := registry.Join(context.Background(), ticketID, c); err != nil {
			t.Fatalf("Join(%s): %v", ticketID, err)
		}
	}
	if err := registry.Join(context.Background(), "t1", peer); err != nil {
		t.Fatalf("Join(peer): %v", err)
	}

	registry.LeaveAll(c)
	if got := len(registry.MembersOf("t1")); got != 1 {
		t.Fatalf("t1 room size = %d, want peer only", got)
	}
	if got := len(registry.MembersOf("t2")); got != 0 {
		t.Fatalf("t2 room size = %d, want 0", got)
	}
}

func TestRegistryPerSessionMembership(t *testing.T) {
	registry, getter := newTestRegistry()
	getter.tickets["t1"] = assignedTicket("t1", "u1", "m1")

	tabA := NewClient("s1", "u1", domain.RoleUser, 8)
	tabB := NewClient("s2", "u1", domain.RoleUser, 8)
	for _, c := range []*Client{tabA, tabB} {
		if err := registry.Join(context.Background(), "t1", c); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	registry.Leave("t1", tabA)
	members := registry.MembersOf("t1")
	if len(members) != 1 || members[0].ID != "s2" {
		t.Fatalf("members = %v, want the second tab still joined", members)
	}
}
