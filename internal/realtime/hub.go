package realtime

import (
	"sync"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Hub tracks every connected session, indexed by user and by role so events
// can be fanned out to "all sessions of user U" or "all members" without
// scanning. The hub owns connection-level membership only; per-ticket room
// membership lives in the Registry.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client
	byRole  map[domain.Role]map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
		byRole:  make(map[domain.Role]map[string]*Client),
	}
}

// Register adds a connected session.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[string]*Client)
	}
	h.byUser[c.UserID][c.ID] = c
	if h.byRole[c.Role] == nil {
		h.byRole[c.Role] = make(map[string]*Client)
	}
	h.byRole[c.Role][c.ID] = c
}

// Unregister removes a session and closes its outbox. Idempotent.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		if users := h.byUser[c.UserID]; users != nil {
			delete(users, c.ID)
			if len(users) == 0 {
				delete(h.byUser, c.UserID)
			}
		}
		if roles := h.byRole[c.Role]; roles != nil {
			delete(roles, c.ID)
			if len(roles) == 0 {
				delete(h.byRole, c.Role)
			}
		}
	}
	h.mu.Unlock()

	c.Close()
}

// ClientsByUser returns a snapshot of every session for a user.
func (h *Hub) ClientsByUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		result = append(result, c)
	}
	return result
}

// ClientsByRole returns a snapshot of every session holding a role.
func (h *Hub) ClientsByRole(role domain.Role) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]*Client, 0, len(h.byRole[role]))
	for _, c := range h.byRole[role] {
		result = append(result, c)
	}
	return result
}

// Count reports the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
