package realtime

import (
	"sync"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Client is one connected session: a single websocket connection bound to an
// authenticated (user id, role) tuple. A user with several tabs open holds
// several clients.
type Client struct {
	ID     string
	UserID string
	Role   domain.Role

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// NewClient builds a session handle with a buffered outbox.
func NewClient(id, userID string, role domain.Role, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		send:   make(chan []byte, bufferSize),
	}
}

// Enqueue offers a frame to the session without blocking. Frames are dropped
// when the outbox is full or the session is closed; delivery is best-effort
// for connected sessions only.
func (c *Client) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbox exposes the ordered frame stream for the write pump.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

// Close shuts the outbox. Idempotent; Enqueue after Close is a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
