// Package events publishes notification domain events on an in-process
// watermill bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/logging"
	"github.com/nhle/notifyhub/internal/model"
)

// Topic is the watermill topic notification events are published on.
const Topic = "notifications"

const typeMetadataKey = "event_type"

// Type names a notification domain event.
type Type string

const (
	NotificationCreated        Type = "notification.created"
	NotificationRead           Type = "notification.read"
	NotificationActionRequired Type = "notification.action_required"
	NotificationActionTaken    Type = "notification.action_taken"
	NotificationArchived       Type = "notification.archived"
	NotificationDeleted        Type = "notification.deleted"
	NotificationProcessed      Type = "notification.processed"
)

// ForStatus returns the event type emitted when a notification enters s.
func ForStatus(s model.Status) Type {
	switch s {
	case model.StatusRead:
		return NotificationRead
	case model.StatusActionRequired:
		return NotificationActionRequired
	case model.StatusActionTaken:
		return NotificationActionTaken
	case model.StatusArchived:
		return NotificationArchived
	case model.StatusDeleted:
		return NotificationDeleted
	}
	return NotificationCreated
}

// Event is a notification domain event.
type Event struct {
	Type           Type              `json:"type"`
	NotificationID string            `json:"notificationId"`
	Source         model.ServiceType `json:"source,omitempty"`
	Status         model.Status      `json:"status,omitempty"`
	RequiresAction *bool             `json:"requiresAction,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

// Bus is an in-memory event bus backed by a watermill GoChannel.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus creates a bus. Publishing never blocks on subscribers.
func NewBus(logger *zap.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logging.Watermill(logger.Named("watermill")),
	)
	return &Bus{pubSub: pubSub, logger: logger}
}

// Publish encodes e as JSON and publishes it on Topic.
func (b *Bus) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(typeMetadataKey, string(e.Type))

	if err := b.pubSub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publishing %s event: %w", e.Type, err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", Topic, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn("dropping malformed event",
					zap.String("message_id", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- e:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
