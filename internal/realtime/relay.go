package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay subscribes to the shared Redis event channel and re-delivers events
// published by other instances to locally connected sessions. Events that
// originated here are skipped: deliverLocal already handled them.
type Relay struct {
	client      *redis.Client
	channel     string
	instanceID  string
	broadcaster *Broadcaster
	logger      *zap.Logger
	doneCh      chan struct{}
}

// NewRelay builds a relay for the given channel.
func NewRelay(client *redis.Client, channel, instanceID string, broadcaster *Broadcaster, logger *zap.Logger) *Relay {
	return &Relay{
		client:      client,
		channel:     channel,
		instanceID:  instanceID,
		broadcaster: broadcaster,
		logger:      logger,
		doneCh:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when Run exits.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run consumes the channel until ctx is done, reconnecting on receive errors.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := r.runSubscription(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event relay subscription error, reconnecting in 2s", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
					continue
				}
			}
			return
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(data []byte) {
	var event remoteEvent
	if err := json.Unmarshal(data, &event); err != nil {
		r.logger.Warn("malformed remote event", zap.Error(err))
		return
	}
	if event.Origin == r.instanceID {
		return
	}
	r.broadcaster.deliverLocal(event.Type, event.Audience, event.Payload)
}
