// Package events defines event types and structures for run lifecycle notifications.
package events

import (
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "conveyor.events"                     // Run and job instance lifecycle events
const SourceEventTopic = "conveyor.source-events"   // Repository events emitted by source providers

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunTriggeredEvent EventType = "run.triggered"
	RunFinishedEvent  EventType = "run.finished"
	RunFailedEvent    EventType = "run.failed"

	// Job instance lifecycle events.
	JobInstanceScheduledEvent EventType = "job.scheduled"
	JobInstanceStartedEvent   EventType = "job.started"
	JobInstanceFinishedEvent  EventType = "job.finished"
	JobInstanceFailedEvent    EventType = "job.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	RunnerID   string         `json:"runner_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunTriggered is published by the dispatcher when a matching trigger rule
// schedules a new run. One JobInstanceScheduled follows per matrix
// combination.
type RunTriggered struct {
	BaseEvent

	RunID         string         `json:"run_id"`
	Event         string         `json:"event"`
	Branch        string         `json:"branch,omitempty"`
	Commit        string         `json:"commit,omitempty"`
	EventData     map[string]any `json:"event_data,omitempty"`
	InstanceCount int            `json:"instance_count"`
}

func (r RunTriggered) GetType() EventType {
	return RunTriggeredEvent
}

// JobInstanceScheduled announces one queued matrix instance. Runners filter
// on RunsOn against their label set before picking it up.
type JobInstanceScheduled struct {
	BaseEvent

	InstanceID string         `json:"instance_id"`
	RunID      string         `json:"run_id"`
	JobID      string         `json:"job_id"`
	RunsOn     string         `json:"runs_on"`
	Matrix     map[string]any `json:"matrix,omitempty"`
}

func (j JobInstanceScheduled) GetType() EventType {
	return JobInstanceScheduledEvent
}

type JobInstanceStarted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	RunID      string `json:"run_id"`
	JobID      string `json:"job_id"`
}

func (j JobInstanceStarted) GetType() EventType {
	return JobInstanceStartedEvent
}

// JobInstanceFinished reports a successfully completed instance with its
// per-step outcomes.
type JobInstanceFinished struct {
	BaseEvent

	InstanceID  string               `json:"instance_id"`
	RunID       string               `json:"run_id"`
	JobID       string               `json:"job_id"`
	StepResults []*models.StepResult `json:"step_results,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

func (j JobInstanceFinished) GetType() EventType {
	return JobInstanceFinishedEvent
}

// JobInstanceFailed reports a failed instance. Sibling instances of the same
// run are unaffected and finish on their own.
type JobInstanceFailed struct {
	BaseEvent

	InstanceID  string               `json:"instance_id"`
	RunID       string               `json:"run_id"`
	JobID       string               `json:"job_id"`
	FailedStep  string               `json:"failed_step,omitempty"`
	Error       string               `json:"error"`
	StepResults []*models.StepResult `json:"step_results,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

func (j JobInstanceFailed) GetType() EventType {
	return JobInstanceFailedEvent
}

// RunFinished is published once every instance of a run completed.
type RunFinished struct {
	BaseEvent

	RunID     string        `json:"run_id"`
	Instances int           `json:"instances"`
	Duration  time.Duration `json:"duration"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// RunFailed is published once every instance of a run is terminal and at
// least one failed.
type RunFailed struct {
	BaseEvent

	RunID           string        `json:"run_id"`
	Instances       int           `json:"instances"`
	FailedInstances int           `json:"failed_instances"`
	Duration        time.Duration `json:"duration"`
}

func (r RunFailed) GetType() EventType {
	return RunFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
