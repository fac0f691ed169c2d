package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// fakeTicketRepo mirrors the conditional-update contract of the Postgres
// implementation: Mark* methods mutate only from the expected source status
// and return pgx.ErrNoRows otherwise.
type fakeTicketRepo struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]*domain.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (f *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", f.seq)
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	clone := *ticket
	f.tickets[ticket.ID] = &clone
	return nil
}

func (f *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *ticket
	return &clone, nil
}

func (f *fakeTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range f.tickets {
		if filter.CreatorID != nil && ticket.CreatorID != *filter.CreatorID {
			continue
		}
		if filter.AssigneeID != nil && (ticket.AssigneeID == nil || *ticket.AssigneeID != *filter.AssigneeID) {
			continue
		}
		if filter.OpenOrAssignedTo != nil {
			assigned := ticket.AssigneeID != nil && *ticket.AssigneeID == *filter.OpenOrAssignedTo
			if ticket.Status != domain.TicketStatusOpen && !assigned {
				continue
			}
		}
		result = append(result, *ticket)
	}
	return result, nil
}

func (f *fakeTicketRepo) MarkAssigned(_ context.Context, id, memberID string) (*domain.Ticket, error) {
	return f.transition(id, domain.TicketStatusOpen, func(t *domain.Ticket) {
		t.Status = domain.TicketStatusAssigned
		t.AssigneeID = &memberID
	})
}

func (f *fakeTicketRepo) MarkRejected(_ context.Context, id string) (*domain.Ticket, error) {
	return f.transition(id, domain.TicketStatusOpen, func(t *domain.Ticket) {
		t.Status = domain.TicketStatusRejected
	})
}

func (f *fakeTicketRepo) MarkClosed(_ context.Context, id, reason string, reassignTo *string) (*domain.Ticket, error) {
	return f.transition(id, domain.TicketStatusAssigned, func(t *domain.Ticket) {
		t.Status = domain.TicketStatusClosed
		t.ClosureReason = &reason
		t.ReassignedTo = reassignTo
	})
}

func (f *fakeTicketRepo) MarkReopened(_ context.Context, id string) (*domain.Ticket, error) {
	return f.transition(id, domain.TicketStatusClosed, func(t *domain.Ticket) {
		t.Status = domain.TicketStatusAssigned
		t.ClosureReason = nil
		t.ReassignedTo = nil
	})
}

func (f *fakeTicketRepo) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.LastMessageAt = &at
	return nil
}

func (f *fakeTicketRepo) transition(id string, from domain.TicketStatus, mutate func(*domain.Ticket)) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok || ticket.Status != from {
		return nil, pgx.ErrNoRows
	}
	mutate(ticket)
	ticket.UpdatedAt = time.Now()
	clone := *ticket
	return &clone, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	seq      int
	messages map[string][]domain.ChatMessage
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string][]domain.ChatMessage)}
}

func (f *fakeMessageRepo) Append(_ context.Context, msg *domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg.ID = fmt.Sprintf("msg-%d", f.seq)
	msg.CreatedAt = time.Now()
	f.messages[msg.TicketID] = append(f.messages[msg.TicketID], *msg)
	return nil
}

func (f *fakeMessageRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatMessage(nil), f.messages[ticketID]...), nil
}

type fakeTransitionRepo struct {
	mu      sync.Mutex
	seq     int
	records map[string][]domain.TransitionRecord
}

func newFakeTransitionRepo() *fakeTransitionRepo {
	return &fakeTransitionRepo{records: make(map[string][]domain.TransitionRecord)}
}

func (f *fakeTransitionRepo) Create(_ context.Context, record *domain.TransitionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	record.ID = fmt.Sprintf("tr-%d", f.seq)
	record.CreatedAt = time.Now()
	f.records[record.TicketID] = append(f.records[record.TicketID], *record)
	return nil
}

func (f *fakeTransitionRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TransitionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TransitionRecord(nil), f.records[ticketID]...), nil
}

// fakeMonitor records arm state and activity without real timers.
type fakeMonitor struct {
	mu       sync.Mutex
	armed    map[string]bool
	activity map[string]int
	window   time.Duration
}

func newFakeMonitor(window time.Duration) *fakeMonitor {
	return &fakeMonitor{
		armed:    make(map[string]bool),
		activity: make(map[string]int),
		window:   window,
	}
}

func (f *fakeMonitor) Arm(ticketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[ticketID] = true
}

func (f *fakeMonitor) Disarm(ticketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, ticketID)
}

func (f *fakeMonitor) RecordActivity(ticketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity[ticketID]++
}

func (f *fakeMonitor) Window() time.Duration {
	return f.window
}

func (f *fakeMonitor) isArmed(ticketID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed[ticketID]
}

func (f *fakeMonitor) activityCount(ticketID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity[ticketID]
}

// eventCollector subscribes to every dispatched event.
type eventCollector struct {
	mu     sync.Mutex
	events []events.Event
}

func newEventCollector(dispatcher events.Dispatcher) *eventCollector {
	c := &eventCollector{}
	dispatcher.SubscribeAll(func(_ context.Context, event events.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, event)
		return nil
	})
	return c
}

func (c *eventCollector) ofType(eventType events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []events.Event
	for _, event := range c.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
