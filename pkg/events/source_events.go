package events

import "errors"

// ErrInvalidEventData is returned when source event data cannot be parsed or is invalid.
var ErrInvalidEventData = errors.New("invalid event data")

// SourceEvent is a repository event emitted by a source provider (webhook
// receiver, schedule poller, queue consumer). The dispatcher consumes these
// and evaluates workflow trigger rules against them.
type SourceEvent struct {
	// SourceID identifies the configured source endpoint that produced the
	// event, e.g. the webhook path segment or "schedule:<workflow>".
	SourceID string `json:"source_id" validate:"required"`

	// ProviderID identifies the provider kind: "webhook", "schedule", "queue"
	// or "dispatch" for manual runs.
	ProviderID string `json:"provider_id" validate:"required"`

	// EventName is the repository event kind the trigger rules match on:
	// push, pull_request, schedule or workflow_dispatch.
	EventName string `json:"event_name" validate:"required"`

	// EventData carries the provider payload. Well-known keys: branch,
	// commit, clone_url, workflow_id. Everything else is passed through to
	// the run's event data untouched.
	EventData map[string]any `json:"event_data"`
}

// NewSourceEvent creates a SourceEvent with the provided parameters.
func NewSourceEvent(sourceID, providerID, eventName string, eventData map[string]any) *SourceEvent {
	if eventData == nil {
		eventData = make(map[string]any)
	}

	return &SourceEvent{
		SourceID:   sourceID,
		ProviderID: providerID,
		EventName:  eventName,
		EventData:  eventData,
	}
}

// Branch returns the branch the event targets. For pull_request events
// providers resolve this to the base branch before publishing.
func (se *SourceEvent) Branch() string {
	branch, _ := se.GetEventDataString("branch")

	return branch
}

// Commit returns the commit SHA carried by the event, if any.
func (se *SourceEvent) Commit() string {
	commit, _ := se.GetEventDataString("commit")

	return commit
}

// WorkflowID returns the workflow a schedule or dispatch event targets
// directly, empty for broadcast repository events.
func (se *SourceEvent) WorkflowID() string {
	id, _ := se.GetEventDataString("workflow_id")

	return id
}

// GetEventDataString safely extracts a string value from the event data.
func (se *SourceEvent) GetEventDataString(key string) (string, bool) {
	value, exists := se.EventData[key]
	if !exists {
		return "", false
	}

	strValue, ok := value.(string)

	return strValue, ok
}

// GetEventDataMap safely extracts a nested map from the event data.
func (se *SourceEvent) GetEventDataMap(key string) (map[string]any, bool) {
	value, exists := se.EventData[key]
	if !exists {
		return nil, false
	}

	mapValue, ok := value.(map[string]any)

	return mapValue, ok
}

// Validate performs basic validation on the source event structure.
func (se *SourceEvent) Validate() error {
	if se.SourceID == "" {
		return errors.New("source_id is required")
	}

	if se.ProviderID == "" {
		return errors.New("provider_id is required")
	}

	if se.EventName == "" {
		return errors.New("event_name is required")
	}

	return nil
}
