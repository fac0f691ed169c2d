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

// ChatService relays ticket chat. It shares the lifecycle engine's
// per-ticket locks so a message never interleaves with a state transition
// on the same ticket.
type ChatService struct {
	tickets   repository.TicketRepository
	messages  repository.ChatMessageRepository
	dispatch  events.Dispatcher
	monitor   PresenceMonitor
	locks     *KeyedMutex
	logger    *zap.Logger
	storeWait time.Duration
}

// ChatDependencies bundles collaborators for the chat relay.
type ChatDependencies struct {
	TicketRepo   repository.TicketRepository
	MessageRepo  repository.ChatMessageRepository
	Dispatcher   events.Dispatcher
	Monitor      PresenceMonitor
	Locks        *KeyedMutex
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
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
	return &ChatService{
		tickets:   deps.TicketRepo,
		messages:  deps.MessageRepo,
		dispatch:  deps.Dispatcher,
		monitor:   deps.Monitor,
		locks:     locks,
		logger:    logger,
		storeWait: storeWait,
	}
}

// PostMessage appends a chat message from a participant and broadcasts it to
// the room. Terminal tickets refuse new messages.
func (s *ChatService) PostMessage(ctx context.Context, sender *domain.User, ticketID, body string) (*domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body required", nil)
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.AccessibleBy(sender.ID, sender.Role) {
		return nil, apperrors.NewForbidden("not a participant of this ticket")
	}
	if ticket.Status == domain.TicketStatusClosed || ticket.Status == domain.TicketStatusRejected {
		return nil, apperrors.NewTicketClosed("ticket no longer accepts messages", map[string]any{
			"ticket_id": ticketID,
			"status":    ticket.Status,
		})
	}

	senderID := sender.ID
	msg := &domain.ChatMessage{
		TicketID: ticketID,
		SenderID: &senderID,
		Body:     body,
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.messages.Append(storeCtx, msg); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.tickets.TouchLastMessage(storeCtx, ticketID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch last message", zap.String("ticket_id", ticketID), zap.Error(err))
	}

	if ticket.Status == domain.TicketStatusAssigned {
		s.monitor.RecordActivity(ticketID)
	}

	s.publishMessage(ctx, sender, msg)
	return msg, nil
}

// ListMessages returns the chat history for a ticket visible to the actor.
func (s *ChatService) ListMessages(ctx context.Context, actor *domain.User, ticketID string) ([]domain.ChatMessage, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canViewTicket(actor, ticket) {
		return nil, apperrors.NewForbidden("not authorized to view this ticket")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	msgs, err := s.messages.ListByTicket(storeCtx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}

func (s *ChatService) publishMessage(ctx context.Context, sender *domain.User, msg *domain.ChatMessage) {
	if s.dispatch == nil {
		return
	}
	senderID := sender.ID
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventMessage,
		TicketID:  msg.TicketID,
		Actor:     userActor(sender),
		Audience:  events.Audience{TicketID: msg.TicketID},
		Timestamp: time.Now(),
		Payload: events.MessagePayload{
			TicketID:  msg.TicketID,
			MessageID: msg.ID,
			SenderID:  &senderID,
			Message:   msg.Body,
			IsSystem:  false,
			Timestamp: msg.CreatedAt,
		},
	}
	_ = s.dispatch.Publish(ctx, event)
}

func (s *ChatService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
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

func (s *ChatService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeWait)
}
