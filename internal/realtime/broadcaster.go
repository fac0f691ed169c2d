package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// Broadcaster fans domain events out to connected sessions: the ticket's
// room, every session of a role, and every session of a specific user,
// deduplicated per connection. Delivery is fire-and-forget through each
// client's buffered outbox and never blocks the publishing transition.
//
// When a Redis client is configured, every event is also published to a
// shared channel so sessions connected to other instances receive it; the
// Relay feeds remote events back through deliverLocal.
type Broadcaster struct {
	hub        *Hub
	registry   *Registry
	logger     *zap.Logger
	metrics    *observability.Metrics
	redis      *redis.Client
	channel    string
	instanceID string
}

// NewBroadcaster constructs the broadcaster. redisClient may be nil for
// single-instance deployments and tests.
func NewBroadcaster(hub *Hub, registry *Registry, logger *zap.Logger, metrics *observability.Metrics, redisClient *redis.Client, channel, instanceID string) *Broadcaster {
	return &Broadcaster{
		hub:        hub,
		registry:   registry,
		logger:     logger,
		metrics:    metrics,
		redis:      redisClient,
		channel:    channel,
		instanceID: instanceID,
	}
}

// remoteEvent is the cross-instance wire format.
type remoteEvent struct {
	Origin   string           `json:"origin"`
	Type     events.EventType `json:"type"`
	TicketID string           `json:"ticket_id"`
	Audience events.Audience  `json:"audience"`
	Payload  json.RawMessage  `json:"payload"`
}

// HandleEvent is subscribed to the dispatcher for every event type.
func (b *Broadcaster) HandleEvent(ctx context.Context, event events.Event) error {
	b.deliverLocal(event.Type, event.Audience, event.Payload)

	if b.redis != nil {
		go b.publishRemote(event)
	}
	return nil
}

func (b *Broadcaster) deliverLocal(eventType events.EventType, audience events.Audience, payload interface{}) {
	frame, err := json.Marshal(events.Envelope{Event: string(eventType), Data: payload})
	if err != nil {
		b.logger.Error("marshal event frame", zap.Error(err), zap.String("event", string(eventType)))
		return
	}

	delivered := make(map[string]struct{})
	deliver := func(clients []*Client) {
		for _, c := range clients {
			if _, seen := delivered[c.ID]; seen {
				continue
			}
			delivered[c.ID] = struct{}{}
			if !c.Enqueue(frame) {
				b.logger.Debug("dropped frame for slow session",
					zap.String("client_id", c.ID),
					zap.String("event", string(eventType)))
			}
		}
	}

	if audience.TicketID != "" {
		deliver(b.registry.MembersOf(audience.TicketID))
	}
	if audience.Role != "" {
		deliver(b.hub.ClientsByRole(audience.Role))
	}
	if audience.UserID != "" {
		deliver(b.hub.ClientsByUser(audience.UserID))
	}

	b.metrics.RecordBroadcast(string(eventType), len(delivered))
}

func (b *Broadcaster) publishRemote(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		b.logger.Error("marshal remote payload", zap.Error(err))
		return
	}
	data, err := json.Marshal(remoteEvent{
		Origin:   b.instanceID,
		Type:     event.Type,
		TicketID: event.TicketID,
		Audience: event.Audience,
		Payload:  payload,
	})
	if err != nil {
		b.logger.Error("marshal remote event", zap.Error(err))
		return
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("publish remote event", zap.Error(err), zap.String("event", string(event.Type)))
	}
}
