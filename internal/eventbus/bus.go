package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event kinds carried on the bus. The values double as workflow trigger
// types, so a definition subscribed to STAGE_CHANGED matches events
// published here under the same name.
const (
	EventStageChanged  = "STAGE_CHANGED"
	EventRecordCreated = "RECORD_CREATED"
	EventRecordUpdated = "RECORD_UPDATED"
)

// Event is a domain fact published by the core surfaces (stage
// transitions, record creation) and consumed by the trigger listener.
type Event struct {
	TenantID   uuid.UUID      `json:"tenant_id"`
	Type       string         `json:"type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Publisher publishes domain events. Publishing is best-effort from the
// caller's perspective: a committed mutation is never rolled back
// because its event could not be published.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber delivers the stream of domain events to one consumer.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// RedisBus carries domain events over a redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: "crm:events:domain",
		logger:  logger.With("module", "eventbus"),
	}
}

// Publish broadcasts the event to all subscribers.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe opens a continuous stream of domain events. The returned
// channel is closed when ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	msgChan := make(chan Event)

	go func() {
		defer close(msgChan)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					b.logger.Error("failed to receive domain event", "error", err)
					continue
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Error("failed to decode domain event", "error", err)
					continue
				}
				if !deliver(ctx, msgChan, event) {
					return
				}
			}
		}
	}()

	return msgChan, nil
}

// deliver hands the event to the consumer unless the subscription ends
// first. A consumer that stopped reading must not pin the receive loop.
func deliver(ctx context.Context, ch chan<- Event, event Event) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- event:
		return true
	}
}
