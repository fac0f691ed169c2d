package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const (
	localUserID = "ws_user_id"
	localRole   = "ws_role"
)

// Inbound frame names accepted from clients.
const (
	frameJoin              = "join"
	frameLeave             = "leave"
	frameMessage           = "message"
	frameInactivityTimeout = "inactivity_timeout"
)

// Handler owns the websocket endpoint: upgrade, session registration, the
// inbound frame loop and the outbound pump.
type Handler struct {
	tokens    *auth.TokenManager
	hub       *realtime.Hub
	registry  *realtime.Registry
	lifecycle *service.LifecycleService
	chat      *service.ChatService
	logger    *zap.Logger
	cfg       config.RealtimeConfig
}

// NewHandler constructs the endpoint.
func NewHandler(tokens *auth.TokenManager, hub *realtime.Hub, registry *realtime.Registry, lifecycle *service.LifecycleService, chat *service.ChatService, cfg config.RealtimeConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tokens:    tokens,
		hub:       hub,
		registry:  registry,
		lifecycle: lifecycle,
		chat:      chat,
		logger:    logger,
		cfg:       cfg,
	}
}

// Register mounts the endpoint at /ws.
func (h *Handler) Register(app *fiber.App) {
	app.Use("/ws", h.upgrade)
	app.Get("/ws", websocket.New(h.serve))
}

// upgrade authenticates the connection before the protocol switch. Browser
// websocket clients cannot set headers, so the token rides a query parameter.
func (h *Handler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return apperrors.NewUnauthorized("token required")
	}
	claims, err := h.tokens.ParseToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if !domain.ValidRole(claims.Role) {
		return apperrors.NewUnauthorized("invalid token role")
	}
	c.Locals(localUserID, claims.SubjectID)
	c.Locals(localRole, claims.Role)
	return c.Next()
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomFrame struct {
	TicketID string `json:"ticket_id"`
	Room     string `json:"room"`
}

func (f roomFrame) ticket() string {
	if f.TicketID != "" {
		return f.TicketID
	}
	return f.Room
}

type messageFrame struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

func (h *Handler) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals(localUserID).(string)
	role, _ := conn.Locals(localRole).(domain.Role)

	client := realtime.NewClient(uuid.NewString(), userID, role, h.cfg.SendBufferSize)
	h.hub.Register(client)
	h.logger.Info("ws session opened",
		zap.String("session_id", client.ID),
		zap.String("user_id", userID),
		zap.String("role", string(role)))

	defer func() {
		h.registry.LeaveAll(client)
		h.hub.Unregister(client)
		_ = conn.Close()
		h.logger.Info("ws session closed", zap.String("session_id", client.ID))
	}()

	go h.writePump(conn, client)

	pongWait := time.Duration(h.cfg.PongWaitSec) * time.Second
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	actor := &domain.User{ID: userID, Role: role}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read failed", zap.String("session_id", client.ID), zap.Error(err))
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(client, apperrors.NewValidationError("malformed frame", nil))
			continue
		}
		h.dispatch(client, actor, frame)
	}
}

func (h *Handler) dispatch(client *realtime.Client, actor *domain.User, frame inboundFrame) {
	switch frame.Event {
	case frameJoin:
		var data roomFrame
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ticket() == "" {
			h.sendError(client, apperrors.NewValidationError("ticket_id required", nil))
			return
		}
		ticketID := data.ticket()
		if err := h.registry.Join(context.Background(), ticketID, client); err != nil {
			h.sendError(client, err)
			return
		}
		h.sendEnvelope(client, events.EventJoined, events.JoinedPayload{Room: ticketID})

	case frameLeave:
		var data roomFrame
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ticket() == "" {
			h.sendError(client, apperrors.NewValidationError("ticket_id required", nil))
			return
		}
		h.registry.Leave(data.ticket(), client)

	case frameMessage:
		var data messageFrame
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.TicketID == "" {
			h.sendError(client, apperrors.NewValidationError("ticket_id and message required", nil))
			return
		}
		if _, err := h.chat.PostMessage(context.Background(), actor, data.TicketID, data.Message); err != nil {
			h.sendError(client, err)
		}

	case frameInactivityTimeout:
		// clients may hint that their countdown elapsed; the closure only
		// happens if the store agrees the chat has been idle
		var data roomFrame
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ticket() == "" {
			h.sendError(client, apperrors.NewValidationError("ticket_id required", nil))
			return
		}
		if err := h.lifecycle.AutoCloseOnInactivity(data.ticket()); err != nil {
			h.sendError(client, err)
		}

	default:
		h.sendError(client, apperrors.NewValidationError("unknown event", map[string]any{"event": frame.Event}))
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *realtime.Client) {
	writeWait := time.Duration(h.cfg.WriteWaitSec) * time.Second
	ticker := time.NewTicker(time.Duration(h.cfg.PingIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}

func (h *Handler) sendEnvelope(client *realtime.Client, event events.EventType, data interface{}) {
	frame, err := json.Marshal(events.Envelope{Event: string(event), Data: data})
	if err != nil {
		h.logger.Error("marshal envelope", zap.Error(err))
		return
	}
	client.Enqueue(frame)
}

func (h *Handler) sendError(client *realtime.Client, err error) {
	domainErr := apperrors.ToDomainError(err)
	frame, marshalErr := json.Marshal(events.Envelope{Event: "error", Data: fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}})
	if marshalErr != nil {
		return
	}
	client.Enqueue(frame)
}
