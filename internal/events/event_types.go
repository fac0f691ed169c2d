package events

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates wire-level event identifiers. The names match what
// connected clients receive on the real-time channel.
type EventType string

const (
	EventTicketCreated  EventType = "ticket_created"
	EventTicketAccepted EventType = "ticket_accepted"
	EventTicketRejected EventType = "ticket_rejected"
	EventTicketClosed   EventType = "ticket_closed"
	EventTicketReopened EventType = "ticket_reopened"
	EventChatInactive   EventType = "chat_inactive"
	EventMessage        EventType = "message"
	EventJoined         EventType = "joined"
)

// Audience describes where an event is delivered. Any combination of the
// three targets may be set: the ticket's room, every connection with a given
// role, and every connection of a specific user.
type Audience struct {
	TicketID string      `json:"ticket_id,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
	UserID   string      `json:"user_id,omitempty"`
}

// Actor identifies who triggered an event; nil UserID means the system.
type Actor struct {
	UserID *string     `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Audience  Audience    `json:"-"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Envelope is the frame written to websocket clients.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// TicketCreatedPayload notifies members of a new open ticket.
type TicketCreatedPayload struct {
	TicketID string                `json:"ticket_id"`
	Category domain.TicketCategory `json:"category"`
	Urgency  domain.TicketUrgency  `json:"urgency"`
}

// TicketAcceptedPayload payload.
type TicketAcceptedPayload struct {
	TicketID string `json:"ticket_id"`
	MemberID string `json:"member_id"`
}

// TicketRejectedPayload payload.
type TicketRejectedPayload struct {
	TicketID string `json:"ticket_id"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	TicketID     string  `json:"ticket_id"`
	Reason       string  `json:"reason"`
	ReassignedTo *string `json:"reassigned_to"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	TicketID string `json:"ticket_id"`
}

// ChatInactivePayload announces an automatic closure.
type ChatInactivePayload struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
}

// MessagePayload carries one chat message to the room.
type MessagePayload struct {
	TicketID  string    `json:"ticket_id"`
	MessageID string    `json:"message_id"`
	SenderID  *string   `json:"sender_id"`
	Message   string    `json:"message"`
	IsSystem  bool      `json:"is_system"`
	Timestamp time.Time `json:"timestamp"`
}

// JoinedPayload confirms room membership to the room.
type JoinedPayload struct {
	Room string `json:"room"`
}
