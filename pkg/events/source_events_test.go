package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceEvent(t *testing.T) {
	event := NewSourceEvent("hooks/canary", "webhook", "push", map[string]any{
		"branch": "main",
		"commit": "4f2a9c1",
	})

	assert.Equal(t, "hooks/canary", event.SourceID)
	assert.Equal(t, "webhook", event.ProviderID)
	assert.Equal(t, "push", event.EventName)
	assert.Equal(t, "main", event.Branch())
	assert.Equal(t, "4f2a9c1", event.Commit())
}

func TestNewSourceEvent_NilEventData(t *testing.T) {
	event := NewSourceEvent("hooks/canary", "webhook", "push", nil)

	require.NotNil(t, event.EventData)
	assert.Empty(t, event.Branch())
}

func TestSourceEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   SourceEvent
		wantErr string
	}{
		{
			name: "valid event",
			event: SourceEvent{
				SourceID:   "hooks/canary",
				ProviderID: "webhook",
				EventName:  "pull_request",
			},
		},
		{
			name: "missing source id",
			event: SourceEvent{
				ProviderID: "webhook",
				EventName:  "push",
			},
			wantErr: "source_id is required",
		},
		{
			name: "missing provider id",
			event: SourceEvent{
				SourceID:  "hooks/canary",
				EventName: "push",
			},
			wantErr: "provider_id is required",
		},
		{
			name: "missing event name",
			event: SourceEvent{
				SourceID:   "hooks/canary",
				ProviderID: "webhook",
			},
			wantErr: "event_name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestSourceEvent_GetEventDataString(t *testing.T) {
	event := NewSourceEvent("s", "queue", "push", map[string]any{
		"branch": "main",
		"count":  3,
	})

	branch, ok := event.GetEventDataString("branch")
	assert.True(t, ok)
	assert.Equal(t, "main", branch)

	_, ok = event.GetEventDataString("count")
	assert.False(t, ok, "non-string values must not coerce")

	_, ok = event.GetEventDataString("missing")
	assert.False(t, ok)
}
