package models

import "time"

// RunStatus represents the lifecycle state of a triggered run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the run has reached a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one triggered execution of a workflow. It owns the job instances
// the matrix expanded into and the artifacts they produced.
type Run struct {
	ID         string         `json:"id"          validate:"required"`
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Event      string         `json:"event"       validate:"required"`
	Branch     string         `json:"branch,omitempty"`
	Commit     string         `json:"commit,omitempty"`
	Status     RunStatus      `json:"status"`
	EventData  map[string]any `json:"event_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// InstanceStatus represents the lifecycle state of one job instance.
type InstanceStatus string

const (
	InstanceStatusQueued    InstanceStatus = "queued"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
)

// IsTerminal reports whether the instance has reached a final state.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed
}

// JobInstance is one concrete execution of a job's step sequence for one
// matrix combination. Instances of the same run share nothing and complete
// independently: one may fail while another succeeds.
type JobInstance struct {
	ID            string         `json:"id"          validate:"required"`
	RunID         string         `json:"run_id"      validate:"required"`
	WorkflowID    string         `json:"workflow_id" validate:"required"`
	JobID         string         `json:"job_id"      validate:"required"`
	RunsOn        string         `json:"runs_on"`
	Matrix        map[string]any `json:"matrix,omitempty"`
	Status        InstanceStatus `json:"status"`
	StepResults   []*StepResult  `json:"step_results,omitempty"`
	RunnerID      string         `json:"runner_id,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// StepResult returns the recorded result for a step UID, or nil when the
// step has not reported yet.
func (i *JobInstance) StepResult(uid string) *StepResult {
	for _, result := range i.StepResults {
		if result.UID == uid {
			return result
		}
	}

	return nil
}
