package domain

import "time"

// ChatMessage captures one entry in a ticket conversation. Messages are
// append-only and immutable once created. SenderID is nil for
// system-generated messages.
type ChatMessage struct {
	ID        string
	TicketID  string
	SenderID  *string
	Body      string
	IsSystem  bool
	CreatedAt time.Time
}
