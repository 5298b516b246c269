package models

// Job is one named step sequence within a workflow. A run expands each job
// into one instance per matrix combination.
type Job struct {
	ID       string            `json:"id"      validate:"required"`
	Name     string            `json:"name"`
	RunsOn   string            `json:"runs_on" validate:"required"`
	Strategy *Strategy         `json:"strategy,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Steps    []*Step           `json:"steps"   validate:"required,min=1"`
}

// Strategy holds the job's expansion settings.
type Strategy struct {
	Matrix *Matrix `json:"matrix,omitempty"`
}

// MatrixCombinations expands the job strategy into concrete variable
// bindings. Jobs without a matrix run exactly once with no bindings.
func (j *Job) MatrixCombinations() []map[string]any {
	if j.Strategy == nil || j.Strategy.Matrix == nil {
		return []map[string]any{{}}
	}

	return j.Strategy.Matrix.Expand()
}
