package models

// ExecutionContext is the evaluation environment for one job instance: the
// event that scheduled the run, the instance's matrix bindings, merged
// environment, and the results of steps already executed.
type ExecutionContext struct {
	ID          string                 `json:"id"`
	RunID       string                 `json:"run_id"`
	InstanceID  string                 `json:"instance_id"`
	WorkflowID  string                 `json:"workflow_id"`
	EventData   map[string]any         `json:"event_data,omitempty"`
	Matrix      map[string]any         `json:"matrix,omitempty"`
	Env         map[string]string      `json:"env,omitempty"`
	Workspace   string                 `json:"workspace,omitempty"`
	StepResults map[string]*StepResult `json:"step_results,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

// ExpressionEnv builds the lookup environment guard expressions and
// interpolations evaluate against: matrix.*, event.*, env.* and
// steps.<uid>.outcome.
func (c *ExecutionContext) ExpressionEnv() map[string]any {
	steps := make(map[string]any, len(c.StepResults))
	for uid, result := range c.StepResults {
		steps[uid] = map[string]any{
			"outcome": result.Outcome(),
			"outputs": result.Outputs,
		}
	}

	env := make(map[string]any, len(c.Env))
	for key, value := range c.Env {
		env[key] = value
	}

	return map[string]any{
		"matrix": c.Matrix,
		"event":  c.EventData,
		"env":    env,
		"steps":  steps,
	}
}
