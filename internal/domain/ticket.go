package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusAssigned TicketStatus = "assigned"
	TicketStatusRejected TicketStatus = "rejected"
	TicketStatusClosed   TicketStatus = "closed"
)

// TicketCategory enumerates supported request categories.
type TicketCategory string

const (
	TicketCategoryTechnical TicketCategory = "technical"
	TicketCategoryBilling   TicketCategory = "billing"
	TicketCategoryGeneral   TicketCategory = "general"
)

// TicketUrgency enumerates urgency levels.
type TicketUrgency string

const (
	TicketUrgencyLow    TicketUrgency = "low"
	TicketUrgencyMedium TicketUrgency = "medium"
	TicketUrgencyHigh   TicketUrgency = "high"
)

// ValidCategory reports whether the given category is known.
func ValidCategory(c TicketCategory) bool {
	switch c {
	case TicketCategoryTechnical, TicketCategoryBilling, TicketCategoryGeneral:
		return true
	}
	return false
}

// ValidUrgency reports whether the given urgency is known.
func ValidUrgency(u TicketUrgency) bool {
	switch u {
	case TicketUrgencyLow, TicketUrgencyMedium, TicketUrgencyHigh:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests.
//
// AssigneeID is set once a member accepts the ticket and survives closure so
// a reopened ticket returns to the same member. ClosureReason is non-nil iff
// the ticket is closed.
type Ticket struct {
	ID            string
	CreatorID     string
	Category      TicketCategory
	Urgency       TicketUrgency
	Description   string
	Status        TicketStatus
	AssigneeID    *string
	ClosureReason *string
	ReassignedTo  *string
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccessibleBy reports whether the given actor may take part in this
// ticket's conversation: the creator, the assigned member, or any admin.
func (t *Ticket) AccessibleBy(userID string, role Role) bool {
	if role == RoleAdmin {
		return true
	}
	if t.CreatorID == userID {
		return true
	}
	return t.AssigneeID != nil && *t.AssigneeID == userID
}
