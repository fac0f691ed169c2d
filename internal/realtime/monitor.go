package realtime

import (
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Monitor runs one inactivity countdown per assigned ticket. The lifecycle
// layer arms the timer when a ticket enters the assigned state, disarms it on
// any transition out, and chat activity resets it. Expiry invokes the handler
// in its own goroutine; the handler is expected to be a no-op when the ticket
// is no longer assigned, which resolves the race between a manual close and a
// timer that already fired.
type Monitor struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	window time.Duration
	expire func(ticketID string)
}

// NewMonitor builds a monitor with the given inactivity window.
func NewMonitor(window time.Duration) *Monitor {
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Monitor{
		timers: make(map[string]*time.Timer),
		window: window,
	}
}

// SetExpiryHandler wires the auto-close callback. Must be called before the
// first Arm.
func (m *Monitor) SetExpiryHandler(fn func(ticketID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire = fn
}

// Window returns the configured inactivity window.
func (m *Monitor) Window() time.Duration {
	return m.window
}

// Arm starts (or restarts) the countdown for a ticket.
func (m *Monitor) Arm(ticketID string) {
	m.armFor(ticketID, m.window)
}

// Disarm cancels the countdown. Idempotent.
func (m *Monitor) Disarm(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[ticketID]; ok {
		timer.Stop()
		delete(m.timers, ticketID)
	}
}

// RecordActivity resets the countdown for a ticket that has one armed.
// Activity on a ticket without a timer (open, closed) is ignored.
func (m *Monitor) RecordActivity(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[ticketID]; ok {
		timer.Stop()
		m.timers[ticketID] = m.newTimerLocked(ticketID, m.window)
	}
}

// Armed reports whether a countdown is running for the ticket.
func (m *Monitor) Armed(ticketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[ticketID]
	return ok
}

// IsActive derives the presentation state for a ticket: assigned and with
// chat activity inside the window. Computed from last_message_at so every
// client sees the same answer.
func (m *Monitor) IsActive(t *domain.Ticket, now time.Time) bool {
	if t.Status != domain.TicketStatusAssigned {
		return false
	}
	last := t.CreatedAt
	if t.LastMessageAt != nil {
		last = *t.LastMessageAt
	}
	return now.Sub(last) < m.window
}

func (m *Monitor) armFor(ticketID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[ticketID]; ok {
		timer.Stop()
	}
	m.timers[ticketID] = m.newTimerLocked(ticketID, d)
}

// newTimerLocked is called with m.mu held; the expiry closure re-acquires it,
// so the timer pointer is always assigned before fire can observe it.
func (m *Monitor) newTimerLocked(ticketID string, d time.Duration) *time.Timer {
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		m.fire(ticketID, timer)
	})
	return timer
}

func (m *Monitor) fire(ticketID string, timer *time.Timer) {
	m.mu.Lock()
	current, armed := m.timers[ticketID]
	// a Disarm or reset that won the race cancels this fire
	if !armed || current != timer {
		m.mu.Unlock()
		return
	}
	delete(m.timers, ticketID)
	handler := m.expire
	m.mu.Unlock()

	if handler != nil {
		handler(ticketID)
	}
}
