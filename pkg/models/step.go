package models

// Step is one ordered action inside a job. Exactly one of Uses or Run is
// set: Uses references a registered action, Run is a shell command line.
type Step struct {
	UID              string            `json:"uid"  validate:"required"`
	Name             string            `json:"name"`
	Uses             string            `json:"uses,omitempty"`
	Run              string            `json:"run,omitempty"`
	With             map[string]any    `json:"with,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Shell            string            `json:"shell,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	If               string            `json:"if,omitempty"`
	ContinueOnError  bool              `json:"continue_on_error,omitempty"`
}

// IsAction reports whether the step dispatches to a registered action.
func (s *Step) IsAction() bool {
	return s.Uses != ""
}

// StepStatus defines the possible states of a step within a job instance.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of one step in one job instance.
type StepResult struct {
	UID      string         `json:"uid"`
	Name     string         `json:"name"`
	Status   StepStatus     `json:"status"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	ExitCode int            `json:"exit_code,omitempty"`
	Log      string         `json:"log,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Outcome is the step status string exposed to guard expressions as
// steps.<uid>.outcome.
func (r *StepResult) Outcome() string {
	return string(r.Status)
}
