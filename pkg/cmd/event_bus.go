package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/conveyor-ci/conveyor/pkg/channels/gochannel"
	"github.com/conveyor-ci/conveyor/pkg/channels/kafka"
	"github.com/conveyor-ci/conveyor/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus for the given transport.
// Daemons use kafka so dispatcher and runners can live on different hosts;
// gochannel serves single-process setups.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "conveyor")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}

// NewSourceEventBus creates the bus that carries source events from
// providers to the dispatcher.
func NewSourceEventBus(provider string, logger *slog.Logger) eventbus.SourceEventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "conveyor-sources")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka source pub/sub: %w", err))
		}

		return eventbus.NewWatermillSourceEventBus(pub, sub, logger)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel source pub/sub: %w", err))
		}

		return eventbus.NewWatermillSourceEventBus(pub, sub, logger)
	default:
		panic("Unsupported source event bus provider: " + provider)
	}
}
