package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Category    domain.TicketCategory `json:"category"`
	Urgency     domain.TicketUrgency  `json:"urgency"`
	Description string                `json:"description"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	Reason       string  `json:"reason"`
	ReassignedTo *string `json:"reassigned_to"`
}

// TicketResponse is the full ticket shape.
type TicketResponse struct {
	ID            string                `json:"id"`
	CreatorID     string                `json:"creator_id"`
	Category      domain.TicketCategory `json:"category"`
	Urgency       domain.TicketUrgency  `json:"urgency"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	AssigneeID    *string               `json:"assignee_id"`
	ClosureReason *string               `json:"closure_reason"`
	ReassignedTo  *string               `json:"reassigned_to"`
	LastMessageAt *time.Time            `json:"last_message_at"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            ticket.ID,
		CreatorID:     ticket.CreatorID,
		Category:      ticket.Category,
		Urgency:       ticket.Urgency,
		Description:   ticket.Description,
		Status:        ticket.Status,
		AssigneeID:    ticket.AssigneeID,
		ClosureReason: ticket.ClosureReason,
		ReassignedTo:  ticket.ReassignedTo,
		LastMessageAt: ticket.LastMessageAt,
		CreatedAt:     ticket.CreatedAt,
		UpdatedAt:     ticket.UpdatedAt,
	}
}

// TransitionResponse is one audit trail entry.
type TransitionResponse struct {
	ID         string              `json:"id"`
	TicketID   string              `json:"ticket_id"`
	ActorID    *string             `json:"actor_id"`
	FromStatus domain.TicketStatus `json:"from_status"`
	ToStatus   domain.TicketStatus `json:"to_status"`
	Note       string              `json:"note,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewTransitionResponse maps an audit record.
func NewTransitionResponse(record *domain.TransitionRecord) TransitionResponse {
	return TransitionResponse{
		ID:         record.ID,
		TicketID:   record.TicketID,
		ActorID:    record.ActorID,
		FromStatus: record.FromStatus,
		ToStatus:   record.ToStatus,
		Note:       record.Note,
		CreatedAt:  record.CreatedAt,
	}
}
