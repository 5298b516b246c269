package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/conveyor-ci/conveyor/pkg/events"
)

// watermillSourceEventBus implements SourceEventBus on top of any watermill
// channel, so the same code serves Kafka in production and gochannel in local
// mode and tests.
type watermillSourceEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   []SourceEventHandler
	logger     *slog.Logger
}

// NewWatermillSourceEventBus creates a source event bus over the given
// publisher and subscriber pair.
func NewWatermillSourceEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) SourceEventBus {
	return &watermillSourceEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make([]SourceEventHandler, 0),
		logger:     logger.With("module", "source-event-bus"),
	}
}

// PublishSourceEvent validates and publishes a source event.
func (b *watermillSourceEventBus) PublishSourceEvent(ctx context.Context, sourceEvent *events.SourceEvent) error {
	if err := sourceEvent.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(sourceEvent)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to marshal source event", "error", err, "source_id", sourceEvent.SourceID)

		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, sourceEvent.SourceID) // Kafka partitioning key
	msg.Metadata.Set("source_id", sourceEvent.SourceID)
	msg.Metadata.Set("provider_id", sourceEvent.ProviderID)
	msg.Metadata.Set("event_name", sourceEvent.EventName)

	b.logger.DebugContext(ctx, "Publishing source event",
		"source_id", sourceEvent.SourceID,
		"provider_id", sourceEvent.ProviderID,
		"event_name", sourceEvent.EventName,
		"topic", events.SourceEventTopic)

	return b.publisher.Publish(events.SourceEventTopic, msg)
}

// HandleSourceEvents registers a handler for source events.
func (b *watermillSourceEventBus) HandleSourceEvents(handler SourceEventHandler) error {
	b.handlers = append(b.handlers, handler)

	return nil
}

// SubscribeToSourceEvents starts consuming source events.
func (b *watermillSourceEventBus) SubscribeToSourceEvents(ctx context.Context) error {
	if len(b.handlers) == 0 {
		b.logger.Warn("No handlers registered for source events")

		return nil
	}

	messages, err := b.subscriber.Subscribe(ctx, events.SourceEventTopic)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to subscribe to source events", "error", err, "topic", events.SourceEventTopic)

		return err
	}

	go func() {
		for msg := range messages {
			var sourceEvent events.SourceEvent
			if err := json.Unmarshal(msg.Payload, &sourceEvent); err != nil {
				b.logger.Error("Failed to unmarshal source event", "error", err, "message_id", msg.UUID)
				msg.Nack()

				continue
			}

			success := true

			for _, handler := range b.handlers {
				if err := handler(ctx, &sourceEvent); err != nil {
					b.logger.Error("Source event handler failed",
						"error", err,
						"source_id", sourceEvent.SourceID,
						"event_name", sourceEvent.EventName)

					success = false
				}
			}

			if success {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	b.logger.InfoContext(ctx, "Source event subscription started", "topic", events.SourceEventTopic)

	return nil
}

// Close shuts down the underlying channel.
func (b *watermillSourceEventBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}

	return b.subscriber.Close()
}
