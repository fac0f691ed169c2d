package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ChatMessageResponse is a single chat entry.
type ChatMessageResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  *string   `json:"sender_id"`
	Message   string    `json:"message"`
	IsSystem  bool      `json:"is_system"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatMessageResponse maps a domain chat message.
func NewChatMessageResponse(msg *domain.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:        msg.ID,
		TicketID:  msg.TicketID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		IsSystem:  msg.IsSystem,
		CreatedAt: msg.CreatedAt,
	}
}
