package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type lifecycleFixture struct {
	service     *LifecycleService
	tickets     *fakeTicketRepo
	messages    *fakeMessageRepo
	transitions *fakeTransitionRepo
	monitor     *fakeMonitor
	dispatcher  events.Dispatcher
	collector   *eventCollector
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	tickets := newFakeTicketRepo()
	messages := newFakeMessageRepo()
	transitions := newFakeTransitionRepo()
	monitor := newFakeMonitor(2 * time.Minute)
	dispatcher := events.NewInMemoryDispatcher()
	collector := newEventCollector(dispatcher)

	svc := NewLifecycleService(LifecycleDependencies{
		TicketRepo:     tickets,
		MessageRepo:    messages,
		TransitionRepo: transitions,
		Dispatcher:     dispatcher,
		Monitor:        monitor,
		StoreTimeout:   time.Second,
	})
	return &lifecycleFixture{
		service:     svc,
		tickets:     tickets,
		messages:    messages,
		transitions: transitions,
		monitor:     monitor,
		dispatcher:  dispatcher,
		collector:   collector,
	}
}

func testUser(id string, role domain.Role) *domain.User {
	return &domain.User{ID: id, Role: role}
}

func (f *lifecycleFixture) openTicket(t *testing.T, creatorID string) *domain.Ticket {
	t.Helper()
	ticket, err := f.service.CreateTicket(context.Background(), testUser(creatorID, domain.RoleUser), TicketCreateInput{
		Category:    domain.TicketCategoryTechnical,
		Urgency:     domain.TicketUrgencyHigh,
		Description: "cannot log in",
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func (f *lifecycleFixture) assignedTicket(t *testing.T, creatorID, memberID string) *domain.Ticket {
	t.Helper()
	ticket := f.openTicket(t, creatorID)
	assigned, err := f.service.AcceptTicket(context.Background(), testUser(memberID, domain.RoleMember), ticket.ID)
	if err != nil {
		t.Fatalf("AcceptTicket: %v", err)
	}
	return assigned
}

func TestCreateTicketValidation(t *testing.T) {
	f := newLifecycleFixture(t)
	creator := testUser("u1", domain.RoleUser)

	_, err := f.service.CreateTicket(context.Background(), creator, TicketCreateInput{
		Category: domain.TicketCategoryBilling,
		Urgency:  domain.TicketUrgencyLow,
	})
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation error for empty description, got %v", err)
	}

	_, err = f.service.CreateTicket(context.Background(), creator, TicketCreateInput{
		Category:    "plumbing",
		Urgency:     domain.TicketUrgencyLow,
		Description: "help",
	})
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation error for unknown category, got %v", err)
	}
}

func TestCreateTicketNotifiesMembers(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.openTicket(t, "u1")

	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("new ticket status = %s, want open", ticket.Status)
	}
	created := f.collector.ofType(events.EventTicketCreated)
	if len(created) != 1 {
		t.Fatalf("ticket_created events = %d, want 1", len(created))
	}
	if created[0].Audience.Role != domain.RoleMember {
		t.Fatalf("ticket_created audience role = %q, want member", created[0].Audience.Role)
	}
}

func TestAcceptTicket(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.openTicket(t, "u1")

	assigned, err := f.service.AcceptTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID)
	if err != nil {
		t.Fatalf("AcceptTicket: %v", err)
	}
	if assigned.Status != domain.TicketStatusAssigned {
		t.Fatalf("status = %s, want assigned", assigned.Status)
	}
	if assigned.AssigneeID == nil || *assigned.AssigneeID != "m1" {
		t.Fatalf("assignee = %v, want m1", assigned.AssigneeID)
	}
	if !f.monitor.isArmed(ticket.ID) {
		t.Fatal("inactivity countdown not armed after accept")
	}

	msgs, _ := f.messages.ListByTicket(context.Background(), ticket.ID)
	if len(msgs) != 1 || !msgs[0].IsSystem {
		t.Fatalf("expected one system greeting, got %+v", msgs)
	}

	accepted := f.collector.ofType(events.EventTicketAccepted)
	if len(accepted) != 1 {
		t.Fatalf("ticket_accepted events = %d, want 1", len(accepted))
	}
	aud := accepted[0].Audience
	if aud.UserID != "u1" || aud.Role != domain.RoleMember {
		t.Fatalf("accept audience = %+v, want creator sessions and member role", aud)
	}
}

func TestAcceptTicketConcurrentSingleWinner(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.openTicket(t, "u1")

	const members = 8
	var wg sync.WaitGroup
	errs := make([]error, members)
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := testUser("m"+string(rune('a'+i)), domain.RoleMember)
			_, errs[i] = f.service.AcceptTicket(context.Background(), member, ticket.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperrors.HasCode(err, apperrors.CodeInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("concurrent accept winners = %d, want exactly 1", wins)
	}
	if got := len(f.collector.ofType(events.EventTicketAccepted)); got != 1 {
		t.Fatalf("ticket_accepted events = %d, want 1", got)
	}
}

func TestRejectTicketIsTerminal(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.openTicket(t, "u1")
	member := testUser("m1", domain.RoleMember)

	if _, err := f.service.RejectTicket(context.Background(), member, ticket.ID); err != nil {
		t.Fatalf("RejectTicket: %v", err)
	}
	if _, err := f.service.AcceptTicket(context.Background(), member, ticket.ID); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("accept after reject = %v, want invalid transition", err)
	}
	if _, err := f.service.ReopenTicket(context.Background(), testUser("u1", domain.RoleUser), ticket.ID); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("reopen after reject = %v, want invalid transition", err)
	}
}

func TestCloseTicketRequiresReason(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")

	_, err := f.service.CloseTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID, "   ", nil)
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("close without reason = %v, want validation error", err)
	}

	got, _ := f.tickets.GetByID(context.Background(), ticket.ID)
	if got.Status != domain.TicketStatusAssigned {
		t.Fatalf("status after failed close = %s, want assigned", got.Status)
	}
}

func TestCloseTicket(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")
	reassign := "m2"

	closed, err := f.service.CloseTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID, "resolved", &reassign)
	if err != nil {
		t.Fatalf("CloseTicket: %v", err)
	}
	if closed.Status != domain.TicketStatusClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}
	if closed.ClosureReason == nil || *closed.ClosureReason != "resolved" {
		t.Fatalf("closure reason = %v, want resolved", closed.ClosureReason)
	}
	if closed.ReassignedTo == nil || *closed.ReassignedTo != "m2" {
		t.Fatalf("reassigned_to = %v, want m2", closed.ReassignedTo)
	}
	if f.monitor.isArmed(ticket.ID) {
		t.Fatal("countdown still armed after close")
	}

	if _, err := f.service.CloseTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID, "again", nil); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("double close = %v, want invalid transition", err)
	}
}

func TestReopenTicket(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")
	if _, err := f.service.CloseTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID, "done", nil); err != nil {
		t.Fatalf("CloseTicket: %v", err)
	}

	if _, err := f.service.ReopenTicket(context.Background(), testUser("stranger", domain.RoleUser), ticket.ID); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("reopen by stranger = %v, want forbidden", err)
	}

	reopened, err := f.service.ReopenTicket(context.Background(), testUser("u1", domain.RoleUser), ticket.ID)
	if err != nil {
		t.Fatalf("ReopenTicket: %v", err)
	}
	if reopened.Status != domain.TicketStatusAssigned {
		t.Fatalf("status = %s, want assigned", reopened.Status)
	}
	if reopened.ClosureReason != nil || reopened.ReassignedTo != nil {
		t.Fatalf("closure fields not cleared: %+v", reopened)
	}
	if reopened.AssigneeID == nil || *reopened.AssigneeID != "m1" {
		t.Fatalf("assignee = %v, want m1 retained", reopened.AssigneeID)
	}
	if !f.monitor.isArmed(ticket.ID) {
		t.Fatal("countdown not re-armed after reopen")
	}
}

func TestAutoCloseOnInactivity(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")

	stale := time.Now().Add(-3 * time.Minute)
	if err := f.tickets.TouchLastMessage(context.Background(), ticket.ID, stale); err != nil {
		t.Fatalf("TouchLastMessage: %v", err)
	}

	if err := f.service.AutoCloseOnInactivity(ticket.ID); err != nil {
		t.Fatalf("AutoCloseOnInactivity: %v", err)
	}
	got, _ := f.tickets.GetByID(context.Background(), ticket.ID)
	if got.Status != domain.TicketStatusClosed {
		t.Fatalf("status = %s, want closed", got.Status)
	}
	if got.ClosureReason == nil || *got.ClosureReason != InactivityReason {
		t.Fatalf("closure reason = %v, want %q", got.ClosureReason, InactivityReason)
	}
	inactive := f.collector.ofType(events.EventChatInactive)
	if len(inactive) != 1 {
		t.Fatalf("chat_inactive events = %d, want 1", len(inactive))
	}
	if got := len(f.collector.ofType(events.EventTicketClosed)); got != 0 {
		t.Fatalf("auto close published ticket_closed %d times, want chat_inactive only", got)
	}
}

func TestAutoCloseSkipsActiveChat(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")

	fresh := time.Now().Add(-5 * time.Second)
	if err := f.tickets.TouchLastMessage(context.Background(), ticket.ID, fresh); err != nil {
		t.Fatalf("TouchLastMessage: %v", err)
	}

	if err := f.service.AutoCloseOnInactivity(ticket.ID); err != nil {
		t.Fatalf("AutoCloseOnInactivity: %v", err)
	}
	got, _ := f.tickets.GetByID(context.Background(), ticket.ID)
	if got.Status != domain.TicketStatusAssigned {
		t.Fatalf("status = %s, want assigned untouched", got.Status)
	}
	if !f.monitor.isArmed(ticket.ID) {
		t.Fatal("countdown not re-armed after skipped auto close")
	}
}

func TestAutoCloseIgnoresNonAssigned(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.openTicket(t, "u1")

	if err := f.service.AutoCloseOnInactivity(ticket.ID); err != nil {
		t.Fatalf("AutoCloseOnInactivity on open ticket: %v", err)
	}
	if err := f.service.AutoCloseOnInactivity("missing"); err != nil {
		t.Fatalf("AutoCloseOnInactivity on missing ticket: %v", err)
	}
	got, _ := f.tickets.GetByID(context.Background(), ticket.ID)
	if got.Status != domain.TicketStatusOpen {
		t.Fatalf("status = %s, want open untouched", got.Status)
	}
}

func TestListTicketsRoleScoping(t *testing.T) {
	f := newLifecycleFixture(t)
	mine := f.openTicket(t, "u1")
	other := f.openTicket(t, "u2")
	assigned := f.assignedTicket(t, "u3", "m1")

	userView, err := f.service.ListTickets(context.Background(), testUser("u1", domain.RoleUser), 50, 0)
	if err != nil {
		t.Fatalf("ListTickets(user): %v", err)
	}
	if len(userView) != 1 || userView[0].ID != mine.ID {
		t.Fatalf("user view = %+v, want only own ticket", userView)
	}

	memberView, err := f.service.ListTickets(context.Background(), testUser("m1", domain.RoleMember), 50, 0)
	if err != nil {
		t.Fatalf("ListTickets(member): %v", err)
	}
	ids := map[string]bool{}
	for _, ticket := range memberView {
		ids[ticket.ID] = true
	}
	if !ids[mine.ID] || !ids[other.ID] || !ids[assigned.ID] {
		t.Fatalf("member view = %v, want open tickets plus own assignment", ids)
	}

	adminView, err := f.service.ListTickets(context.Background(), testUser("a1", domain.RoleAdmin), 50, 0)
	if err != nil {
		t.Fatalf("ListTickets(admin): %v", err)
	}
	if len(adminView) != 3 {
		t.Fatalf("admin view size = %d, want 3", len(adminView))
	}
}

func TestGetTicketVisibility(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")

	if _, err := f.service.GetTicket(context.Background(), testUser("u1", domain.RoleUser), ticket.ID); err != nil {
		t.Fatalf("creator view: %v", err)
	}
	if _, err := f.service.GetTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID); err != nil {
		t.Fatalf("assignee view: %v", err)
	}
	if _, err := f.service.GetTicket(context.Background(), testUser("m2", domain.RoleMember), ticket.ID); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("other member view of assigned ticket = %v, want forbidden", err)
	}
	if _, err := f.service.GetTicket(context.Background(), testUser("a1", domain.RoleAdmin), ticket.ID); err != nil {
		t.Fatalf("admin view: %v", err)
	}
	if _, err := f.service.GetTicket(context.Background(), testUser("u1", domain.RoleUser), "missing"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("missing ticket = %v, want not found", err)
	}
}

func TestTransitionsRecorded(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.assignedTicket(t, "u1", "m1")
	if _, err := f.service.CloseTicket(context.Background(), testUser("m1", domain.RoleMember), ticket.ID, "done", nil); err != nil {
		t.Fatalf("CloseTicket: %v", err)
	}

	records, err := f.service.ListTransitions(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("transition records = %d, want accept and close", len(records))
	}
	if records[0].FromStatus != domain.TicketStatusOpen || records[0].ToStatus != domain.TicketStatusAssigned {
		t.Fatalf("first record = %+v, want open->assigned", records[0])
	}
	if records[1].ToStatus != domain.TicketStatusClosed || records[1].Note != "done" {
		t.Fatalf("second record = %+v, want close with note", records[1])
	}
}
