package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// InactivityReason is the closure reason recorded by the automatic close.
const InactivityReason = "inactivity timeout"

// PresenceMonitor is the slice of the inactivity monitor the lifecycle
// engine drives.
type PresenceMonitor interface {
	Arm(ticketID string)
	Disarm(ticketID string)
	RecordActivity(ticketID string)
	Window() time.Duration
}

// LifecycleService is the ticket state machine. Every transition for a given
// ticket runs under that ticket's lock, and the store applies each transition
// as a conditional update, so concurrent attempts resolve to at-most-one
// winner.
type LifecycleService struct {
	tickets     repository.TicketRepository
	messages    repository.ChatMessageRepository
	transitions repository.TransitionRepository
	dispatcher  events.Dispatcher
	monitor     PresenceMonitor
	locks       *KeyedMutex
	logger      *zap.Logger
	storeWait   time.Duration
}

// LifecycleDependencies bundles collaborators for the lifecycle engine.
type LifecycleDependencies struct {
	TicketRepo     repository.TicketRepository
	MessageRepo    repository.ChatMessageRepository
	TransitionRepo repository.TransitionRepository
	Dispatcher     events.Dispatcher
	Monitor        PresenceMonitor
	Locks          *KeyedMutex
	Logger         *zap.Logger
	StoreTimeout   time.Duration
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Category    domain.TicketCategory
	Urgency     domain.TicketUrgency
	Description string
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	storeWait := deps.StoreTimeout
	if storeWait <= 0 {
		storeWait = 5 * time.Second
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewKeyedMutex()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		tickets:     deps.TicketRepo,
		messages:    deps.MessageRepo,
		transitions: deps.TransitionRepo,
		dispatcher:  deps.Dispatcher,
		monitor:     deps.Monitor,
		locks:       locks,
		logger:      logger,
		storeWait:   storeWait,
	}
}

// Locks exposes the per-ticket mutex set so the chat relay shares the same
// serialization domain.
func (s *LifecycleService) Locks() *KeyedMutex {
	return s.locks
}

// CreateTicket files a new ticket in the open state and notifies members.
func (s *LifecycleService) CreateTicket(ctx context.Context, creator *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.NewValidationError("description required", nil)
	}
	if !domain.ValidCategory(input.Category) {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": input.Category})
	}
	if !domain.ValidUrgency(input.Urgency) {
		return nil, apperrors.NewValidationError("unknown urgency", map[string]any{"urgency": input.Urgency})
	}

	ticket := &domain.Ticket{
		CreatorID:   creator.ID,
		Category:    input.Category,
		Urgency:     input.Urgency,
		Description: description,
		Status:      domain.TicketStatusOpen,
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.tickets.Create(storeCtx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    userActor(creator),
		Audience: events.Audience{Role: domain.RoleMember},
		Payload: events.TicketCreatedPayload{
			TicketID: ticket.ID,
			Category: ticket.Category,
			Urgency:  ticket.Urgency,
		},
	})
	return ticket, nil
}

// AcceptTicket assigns an open ticket to a member. With two concurrent
// accepts, exactly one wins; the loser gets InvalidTransition.
func (s *LifecycleService) AcceptTicket(ctx context.Context, member *domain.User, ticketID string) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TicketStatusOpen {
		return nil, invalidTransition(current.Status, domain.TicketStatusAssigned, ticketID)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	ticket, err := s.tickets.MarkAssigned(storeCtx, ticketID, member.ID)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidTransition(current.Status, domain.TicketStatusAssigned, ticketID)
		}
		return nil, apperrors.MapError(err)
	}

	s.appendSystemMessage(ctx, ticket, "Hello! I'll be assisting you with your ticket.")
	s.recordTransition(ctx, ticket.ID, &member.ID, domain.TicketStatusOpen, domain.TicketStatusAssigned, "")
	s.monitor.Arm(ticket.ID)

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAccepted,
		TicketID: ticket.ID,
		Actor:    userActor(member),
		Audience: events.Audience{
			TicketID: ticket.ID,
			UserID:   ticket.CreatorID,
			Role:     domain.RoleMember,
		},
		Payload: events.TicketAcceptedPayload{
			TicketID: ticket.ID,
			MemberID: member.ID,
		},
	})
	return ticket, nil
}

// RejectTicket declines an open ticket; the rejected state is absorbing.
func (s *LifecycleService) RejectTicket(ctx context.Context, member *domain.User, ticketID string) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TicketStatusOpen {
		return nil, invalidTransition(current.Status, domain.TicketStatusRejected, ticketID)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	ticket, err := s.tickets.MarkRejected(storeCtx, ticketID)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidTransition(current.Status, domain.TicketStatusRejected, ticketID)
		}
		return nil, apperrors.MapError(err)
	}

	s.recordTransition(ctx, ticket.ID, &member.ID, domain.TicketStatusOpen, domain.TicketStatusRejected, "")

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketRejected,
		TicketID: ticket.ID,
		Actor:    userActor(member),
		Audience: events.Audience{
			UserID: ticket.CreatorID,
			Role:   domain.RoleMember,
		},
		Payload: events.TicketRejectedPayload{TicketID: ticket.ID},
	})
	return ticket, nil
}

// CloseTicket closes an assigned ticket with a mandatory reason and an
// optional reassignment target for a future reopen.
func (s *LifecycleService) CloseTicket(ctx context.Context, actor *domain.User, ticketID, reason string, reassignTo *string) (*domain.Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("closure reason required", nil)
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TicketStatusAssigned {
		return nil, invalidTransition(current.Status, domain.TicketStatusClosed, ticketID)
	}

	// disarm before the status flips; the no-op guard in the auto-close
	// covers a timer that already fired
	s.monitor.Disarm(ticketID)

	storeCtx, cancel := s.storeCtx(ctx)
	ticket, err := s.tickets.MarkClosed(storeCtx, ticketID, reason, reassignTo)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidTransition(current.Status, domain.TicketStatusClosed, ticketID)
		}
		// ticket is still assigned, restore the countdown
		s.monitor.Arm(ticketID)
		return nil, apperrors.MapError(err)
	}

	s.appendSystemMessage(ctx, ticket, "This conversation has been closed by the support member.")
	s.recordTransition(ctx, ticket.ID, &actor.ID, domain.TicketStatusAssigned, domain.TicketStatusClosed, reason)

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: ticket.ID,
		Actor:    userActor(actor),
		Audience: events.Audience{TicketID: ticket.ID},
		Payload: events.TicketClosedPayload{
			TicketID:     ticket.ID,
			Reason:       reason,
			ReassignedTo: reassignTo,
		},
	})
	return ticket, nil
}

// ReopenTicket returns a closed ticket to its assignee, clearing the closure
// fields.
func (s *LifecycleService) ReopenTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !current.AccessibleBy(actor.ID, actor.Role) {
		return nil, apperrors.NewForbidden("not authorized for this ticket")
	}
	if current.Status != domain.TicketStatusClosed {
		return nil, invalidTransition(current.Status, domain.TicketStatusAssigned, ticketID)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	ticket, err := s.tickets.MarkReopened(storeCtx, ticketID)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidTransition(current.Status, domain.TicketStatusAssigned, ticketID)
		}
		return nil, apperrors.MapError(err)
	}

	s.appendSystemMessage(ctx, ticket, "Ticket has been reopened.")
	s.recordTransition(ctx, ticket.ID, &actor.ID, domain.TicketStatusClosed, domain.TicketStatusAssigned, "")
	s.monitor.Arm(ticket.ID)

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketReopened,
		TicketID: ticket.ID,
		Actor:    userActor(actor),
		Audience: events.Audience{TicketID: ticket.ID},
		Payload:  events.TicketReopenedPayload{TicketID: ticket.ID},
	})
	return ticket, nil
}

// AutoCloseOnInactivity closes an assigned ticket whose chat has been idle
// for the full window. System-invoked: the monitor's timer expiry and the
// client inactivity hint both land here, and the closure is only applied
// after re-verifying state, so a stale fire or a premature hint is a no-op.
func (s *LifecycleService) AutoCloseOnInactivity(ticketID string) error {
	ctx := context.Background()

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.getTicket(ctx, ticketID)
	if err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeNotFound {
			return nil
		}
		s.logger.Warn("auto-close lookup failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return err
	}
	if current.Status != domain.TicketStatusAssigned {
		return nil
	}

	last := current.CreatedAt
	if current.LastMessageAt != nil {
		last = *current.LastMessageAt
	}
	if idle := time.Since(last); idle < s.monitor.Window() {
		// activity arrived since the hint/fire; keep the ticket alive
		s.monitor.Arm(ticketID)
		return nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	ticket, err := s.tickets.MarkClosed(storeCtx, ticketID, InactivityReason, nil)
	cancel()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		s.logger.Error("auto-close failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return apperrors.MapError(err)
	}
	s.monitor.Disarm(ticketID)

	s.appendSystemMessage(ctx, ticket, "This conversation has been closed due to inactivity.")
	s.recordTransition(ctx, ticket.ID, nil, domain.TicketStatusAssigned, domain.TicketStatusClosed, InactivityReason)

	s.logger.Info("ticket auto-closed", zap.String("ticket_id", ticket.ID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventChatInactive,
		TicketID: ticket.ID,
		Audience: events.Audience{TicketID: ticket.ID},
		Payload: events.ChatInactivePayload{
			TicketID: ticket.ID,
			Reason:   InactivityReason,
		},
	})
	return nil
}

// ListTickets returns the role-scoped ticket view: users see their own
// tickets, members see open tickets plus their assignments, admins see all.
func (s *LifecycleService) ListTickets(ctx context.Context, actor *domain.User, limit, offset int) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{Limit: limit, Offset: offset}
	switch actor.Role {
	case domain.RoleUser:
		filter.CreatorID = &actor.ID
	case domain.RoleMember:
		filter.OpenOrAssignedTo = &actor.ID
	case domain.RoleAdmin:
		// unscoped
	default:
		return nil, apperrors.NewForbidden("unknown role")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	tickets, err := s.tickets.ListWithFilter(storeCtx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// GetTicket fetches one ticket, enforcing visibility: participants and
// admins always; members additionally while the ticket is still open.
func (s *LifecycleService) GetTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canViewTicket(actor, ticket) {
		return nil, apperrors.NewForbidden("not authorized to view this ticket")
	}
	return ticket, nil
}

// ListTransitions returns the audit trail for a ticket.
func (s *LifecycleService) ListTransitions(ctx context.Context, ticketID string) ([]domain.TransitionRecord, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	records, err := s.transitions.ListByTicket(storeCtx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return records, nil
}

func (s *LifecycleService) getTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	ticket, err := s.tickets.GetByID(storeCtx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *LifecycleService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeWait)
}

// appendSystemMessage persists a system chat entry, bumps last_message_at
// and broadcasts the message to the room. Failures are logged, not
// propagated: the transition itself already committed.
func (s *LifecycleService) appendSystemMessage(ctx context.Context, ticket *domain.Ticket, body string) {
	msg := &domain.ChatMessage{
		TicketID: ticket.ID,
		Body:     body,
		IsSystem: true,
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.messages.Append(storeCtx, msg); err != nil {
		s.logger.Warn("append system message", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	if err := s.tickets.TouchLastMessage(storeCtx, ticket.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch last message", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	ticket.LastMessageAt = &msg.CreatedAt

	s.publishEvent(ctx, events.Event{
		Type:     events.EventMessage,
		TicketID: ticket.ID,
		Audience: events.Audience{TicketID: ticket.ID},
		Payload: events.MessagePayload{
			TicketID:  ticket.ID,
			MessageID: msg.ID,
			SenderID:  nil,
			Message:   msg.Body,
			IsSystem:  true,
			Timestamp: msg.CreatedAt,
		},
	})
}

func (s *LifecycleService) recordTransition(ctx context.Context, ticketID string, actorID *string, from, to domain.TicketStatus, note string) {
	if s.transitions == nil {
		return
	}
	record := &domain.TransitionRecord{
		TicketID:   ticketID,
		ActorID:    actorID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.transitions.Create(storeCtx, record); err != nil {
		s.logger.Warn("record transition", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *LifecycleService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func canViewTicket(actor *domain.User, ticket *domain.Ticket) bool {
	if ticket.AccessibleBy(actor.ID, actor.Role) {
		return true
	}
	return actor.Role == domain.RoleMember && ticket.Status == domain.TicketStatusOpen
}

func invalidTransition(from, to domain.TicketStatus, ticketID string) error {
	return apperrors.NewInvalidTransition("transition not allowed", map[string]any{
		"ticket_id": ticketID,
		"from":      from,
		"to":        to,
	})
}

func userActor(user *domain.User) events.Actor {
	id := user.ID
	return events.Actor{UserID: &id, Role: user.Role}
}
