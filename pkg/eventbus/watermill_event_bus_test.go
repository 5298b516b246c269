package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/conveyor-ci/conveyor/pkg/channels/gochannel"
	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestEventBus(t)

	received := make(chan *events.JobInstanceScheduled, 1)

	err := bus.Handle(events.JobInstanceScheduledEvent, func(_ context.Context, event interface{}) error {
		scheduled, ok := event.(*events.JobInstanceScheduled)
		require.True(t, ok)

		received <- scheduled

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	published := events.JobInstanceScheduled{
		BaseEvent:  events.NewBaseEvent(events.JobInstanceScheduledEvent, "wf-canary"),
		InstanceID: "inst-1",
		RunID:      "run-1",
		JobID:      "build",
		RunsOn:     "ubuntu-latest",
		Matrix:     map[string]any{"os": "ubuntu-latest"},
	}

	require.NoError(t, bus.Publish(ctx, "wf-canary", published))

	select {
	case got := <-received:
		assert.Equal(t, "inst-1", got.InstanceID)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "ubuntu-latest", got.RunsOn)
		assert.Equal(t, "wf-canary", got.WorkflowID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job.scheduled event")
	}
}

func TestWatermillEventBus_UnhandledEventTypeIsAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestEventBus(t)

	received := make(chan *events.RunFinished, 1)

	err := bus.Handle(events.RunFinishedEvent, func(_ context.Context, event interface{}) error {
		received <- event.(*events.RunFinished)

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// An event type nobody handles must not wedge the subscription.
	require.NoError(t, bus.Publish(ctx, "wf-canary", events.RunTriggered{
		BaseEvent: events.NewBaseEvent(events.RunTriggeredEvent, "wf-canary"),
		RunID:     "run-1",
	}))
	require.NoError(t, bus.Publish(ctx, "wf-canary", events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, "wf-canary"),
		RunID:     "run-1",
		Instances: 2,
	}))

	select {
	case got := <-received:
		assert.Equal(t, 2, got.Instances)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run.finished event")
	}
}

func TestWatermillSourceEventBus_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillSourceEventBus(pub, sub, logger)

	received := make(chan *events.SourceEvent, 1)

	require.NoError(t, bus.HandleSourceEvents(func(_ context.Context, sourceEvent *events.SourceEvent) error {
		received <- sourceEvent

		return nil
	}))
	require.NoError(t, bus.SubscribeToSourceEvents(ctx))

	event := events.NewSourceEvent("hooks/canary", "webhook", "push", map[string]any{
		"branch": "main",
	})
	require.NoError(t, bus.PublishSourceEvent(ctx, event))

	select {
	case got := <-received:
		assert.Equal(t, "hooks/canary", got.SourceID)
		assert.Equal(t, "push", got.EventName)
		assert.Equal(t, "main", got.Branch())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for source event")
	}
}

func TestWatermillSourceEventBus_RejectsInvalidEvent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillSourceEventBus(pub, sub, logger)

	err = bus.PublishSourceEvent(context.Background(), &events.SourceEvent{ProviderID: "webhook"})
	assert.Error(t, err)
}
