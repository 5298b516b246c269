// Package runner executes job instances: the ordered step sequence of one
// job for one matrix combination.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyor-ci/conveyor/pkg/expression"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/otelhelper"
	"github.com/conveyor-ci/conveyor/pkg/registry"
)

// defaultUsesBindings maps the action part of a pinned `uses:` reference to
// a registered action type.
var defaultUsesBindings = map[string]string{
	"actions/checkout":        "checkout",
	"dtolnay/rust-toolchain":  "toolchain",
	"actions/upload-artifact": "upload_artifact",
}

// Executor runs the steps of a job instance in order. Within one instance a
// failing step stops the sequence and the remaining steps are recorded as
// skipped; other instances of the same run are unaffected.
type Executor struct {
	logger       *slog.Logger
	registry     *registry.Registry
	tracer       trace.Tracer
	usesBindings map[string]string
}

func NewExecutor(logger *slog.Logger, reg *registry.Registry) *Executor {
	return &Executor{
		logger:       logger,
		registry:     reg,
		tracer:       otel.Tracer("conveyor.runner"),
		usesBindings: maps.Clone(defaultUsesBindings),
	}
}

// BindUses maps an additional action reference to a registered action type.
func (e *Executor) BindUses(reference, actionType string) {
	e.usesBindings[reference] = actionType
}

// ExecuteInstance runs every step of the instance inside the given
// workspace, recording step results on the instance as it goes. It returns
// the error of the step that failed the instance, or nil when the instance
// completed.
func (e *Executor) ExecuteInstance(ctx context.Context, workflow *models.Workflow, run *models.Run, instance *models.JobInstance, workspace string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "runner.execute_instance",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.JobIDKey, instance.JobID),
	)
	defer span.End()

	logger := e.logger.With(
		"workflow_id", workflow.ID,
		"run_id", run.ID,
		"instance_id", instance.ID,
		"job_id", instance.JobID,
	)

	job := workflow.FindJob(instance.JobID)
	if job == nil {
		err := fmt.Errorf("job %q not found in workflow %s", instance.JobID, workflow.ID)
		failInstance(instance, err)
		otelhelper.SetError(span, err)

		return err
	}

	if err := os.MkdirAll(workspace, 0750); err != nil {
		err = fmt.Errorf("failed to create workspace: %w", err)
		failInstance(instance, err)
		otelhelper.SetError(span, err)

		return err
	}

	executionCtx := models.ExecutionContext{
		ID:          instance.ID,
		RunID:       run.ID,
		InstanceID:  instance.ID,
		WorkflowID:  workflow.ID,
		EventData:   run.EventData,
		Matrix:      instance.Matrix,
		Workspace:   workspace,
		StepResults: make(map[string]*models.StepResult, len(job.Steps)),
	}

	env, err := resolveEnv(workflow.Env, job.Env, &executionCtx)
	if err != nil {
		failInstance(instance, err)
		otelhelper.SetError(span, err)

		return err
	}

	executionCtx.Env = env

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusRunning
	instance.StartedAt = &now
	instance.StepResults = make([]*models.StepResult, 0, len(job.Steps))

	logger.Info("Starting job instance", "steps", len(job.Steps), "matrix", instance.Matrix)

	var failure error

	for _, step := range job.Steps {
		result := &models.StepResult{UID: step.UID, Name: step.Name}

		if failure != nil {
			result.Status = models.StepStatusSkipped
			e.recordStep(&executionCtx, instance, result)

			continue
		}

		stepLogger := logger.With("step_uid", step.UID, "step_name", step.Name)

		guard, guardErr := expression.EvaluateBool(step.If, executionCtx.ExpressionEnv())
		if guardErr != nil {
			result.Status = models.StepStatusFailed
			result.Error = guardErr.Error()
			failure = fmt.Errorf("step %q: invalid condition: %w", step.UID, guardErr)

			stepLogger.Error("Step condition is invalid", "condition", step.If, "error", guardErr)
			e.recordStep(&executionCtx, instance, result)

			continue
		}

		if !guard {
			result.Status = models.StepStatusSkipped

			stepLogger.Info("Step condition not met, skipping", "condition", step.If)
			e.recordStep(&executionCtx, instance, result)

			continue
		}

		outputs, stepErr := e.executeStep(ctx, step, &executionCtx, stepLogger)

		result.Outputs = outputs
		if code, ok := outputs["exit_code"].(int); ok {
			result.ExitCode = code
		}

		if log, ok := outputs["stdout"].(string); ok {
			result.Log = log
		}

		if stepErr != nil {
			result.Status = models.StepStatusFailed
			result.Error = stepErr.Error()

			if step.ContinueOnError {
				stepLogger.Warn("Step failed but continues on error", "error", stepErr)
			} else {
				failure = fmt.Errorf("step %q failed: %w", step.UID, stepErr)

				stepLogger.Error("Step failed", "error", stepErr)
			}
		} else {
			result.Status = models.StepStatusCompleted

			stepLogger.Info("Step completed")
		}

		e.recordStep(&executionCtx, instance, result)
	}

	finished := time.Now().UTC()
	instance.FinishedAt = &finished

	if failure != nil {
		instance.Status = models.InstanceStatusFailed
		instance.FailureReason = failure.Error()

		logger.Error("Job instance failed", "reason", instance.FailureReason)
		otelhelper.SetError(span, failure)

		return failure
	}

	instance.Status = models.InstanceStatusCompleted

	logger.Info("Job instance completed")

	return nil
}

func (e *Executor) recordStep(executionCtx *models.ExecutionContext, instance *models.JobInstance, result *models.StepResult) {
	executionCtx.StepResults[result.UID] = result
	instance.StepResults = append(instance.StepResults, result)
}

// executeStep resolves the step into an action, interpolates its
// configuration and runs it.
func (e *Executor) executeStep(ctx context.Context, step *models.Step, executionCtx *models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	actionType, config, err := e.resolveStep(step, executionCtx)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "runner.execute_step",
		attribute.String(otelhelper.StepUIDKey, step.UID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.ActionTypeKey, actionType),
	)
	defer span.End()

	action, err := e.registry.CreateAction(actionType, config)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	logger.Info("Executing step", "action_type", actionType)

	outputs, err := action.Execute(ctx, *executionCtx, logger)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outputs, err
}

// resolveStep maps a step to its action type and interpolated configuration.
func (e *Executor) resolveStep(step *models.Step, executionCtx *models.ExecutionContext) (string, map[string]any, error) {
	env := executionCtx.ExpressionEnv()

	if step.IsAction() {
		reference := step.Uses
		if at := strings.Index(reference, "@"); at != -1 {
			reference = reference[:at]
		}

		actionType, ok := e.usesBindings[reference]
		if !ok {
			return "", nil, fmt.Errorf("no action registered for %q", step.Uses)
		}

		config, err := interpolateConfig(step.With, env)
		if err != nil {
			return "", nil, fmt.Errorf("invalid step configuration: %w", err)
		}

		return actionType, config, nil
	}

	command, err := expression.Interpolate(step.Run, env)
	if err != nil {
		return "", nil, fmt.Errorf("invalid command: %w", err)
	}

	stepEnv, err := interpolateStringMap(step.Env, env)
	if err != nil {
		return "", nil, fmt.Errorf("invalid step environment: %w", err)
	}

	config := map[string]any{
		"command": command,
	}

	if step.Shell != "" {
		config["shell"] = step.Shell
	}

	if step.WorkingDirectory != "" {
		config["working_directory"] = step.WorkingDirectory
	}

	if len(stepEnv) > 0 {
		config["env"] = stepEnv
	}

	return "run", config, nil
}

// resolveEnv merges workflow and job environments, job winning, and
// interpolates the values against the matrix and event context.
func resolveEnv(workflowEnv, jobEnv map[string]string, executionCtx *models.ExecutionContext) (map[string]string, error) {
	merged := make(map[string]string, len(workflowEnv)+len(jobEnv))

	maps.Copy(merged, workflowEnv)
	maps.Copy(merged, jobEnv)

	if len(merged) == 0 {
		return nil, nil
	}

	env := executionCtx.ExpressionEnv()

	for key, value := range merged {
		interpolated, err := expression.Interpolate(value, env)
		if err != nil {
			return nil, fmt.Errorf("invalid environment value for %s: %w", key, err)
		}

		merged[key] = interpolated
	}

	return merged, nil
}

func interpolateConfig(with map[string]any, env map[string]any) (map[string]any, error) {
	config := make(map[string]any, len(with))

	for key, value := range with {
		interpolated, err := expression.InterpolateAny(value, env)
		if err != nil {
			return nil, err
		}

		config[key] = interpolated
	}

	return config, nil
}

func interpolateStringMap(in map[string]string, env map[string]any) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(in))

	for key, value := range in {
		interpolated, err := expression.Interpolate(value, env)
		if err != nil {
			return nil, err
		}

		out[key] = interpolated
	}

	return out, nil
}

func failInstance(instance *models.JobInstance, err error) {
	now := time.Now().UTC()

	instance.Status = models.InstanceStatusFailed
	instance.FailureReason = err.Error()
	instance.FinishedAt = &now
}
