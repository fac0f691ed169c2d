package domain

import "time"

// TransitionRecord is an immutable audit entry written for every lifecycle
// transition. ActorID is nil for system-initiated transitions such as the
// inactivity auto-close.
type TransitionRecord struct {
	ID         string
	TicketID   string
	ActorID    *string
	FromStatus TicketStatus
	ToStatus   TicketStatus
	Note       string
	CreatedAt  time.Time
}
