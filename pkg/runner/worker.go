package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/eventbus"
	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

// Worker consumes scheduled job instances from the event bus, executes the
// ones matching its labels and publishes their lifecycle events. Instances
// whose runs-on label no other runner serves stay queued.
type Worker struct {
	id            string
	labels        []string
	workspaceRoot string
	persistence   persistence.Persistence
	eventBus      eventbus.EventBus
	executor      *Executor
	logger        *slog.Logger
}

func NewWorker(
	id string,
	labels []string,
	workspaceRoot string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	executor *Executor,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:            id,
		labels:        labels,
		workspaceRoot: workspaceRoot,
		persistence:   persistence,
		eventBus:      eventBus,
		executor:      executor,
		logger:        logger.With("runner_id", id),
	}
}

// Start registers the scheduled-instance handler and begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting runner", "labels", w.labels)

	if err := w.eventBus.Handle(events.JobInstanceScheduledEvent, w.handleJobInstanceScheduled); err != nil {
		return err
	}

	return w.eventBus.Subscribe(ctx)
}

// accepts reports whether this runner serves the instance's runs-on label.
// A runner without labels accepts everything.
func (w *Worker) accepts(runsOn string) bool {
	if runsOn == "" || len(w.labels) == 0 {
		return true
	}

	return slices.Contains(w.labels, runsOn)
}

func (w *Worker) handleJobInstanceScheduled(ctx context.Context, event any) error {
	scheduled, ok := event.(*events.JobInstanceScheduled)
	if !ok {
		w.logger.Error("Invalid event type for JobInstanceScheduled")

		return nil
	}

	logger := w.logger.With(
		"workflow_id", scheduled.WorkflowID,
		"run_id", scheduled.RunID,
		"instance_id", scheduled.InstanceID,
	)

	if !w.accepts(scheduled.RunsOn) {
		logger.Debug("Instance does not match runner labels, ignoring", "runs_on", scheduled.RunsOn)

		return nil
	}

	instance, err := w.persistence.InstanceRepository().GetByID(ctx, scheduled.InstanceID)
	if err != nil {
		logger.Error("Failed to load job instance", "error", err)

		return err
	}

	if instance == nil {
		logger.Error("Scheduled job instance not found")

		return nil
	}

	// At-least-once delivery: an instance already claimed by a runner is
	// not picked up again.
	if instance.Status != models.InstanceStatusQueued {
		logger.Debug("Instance already claimed, ignoring", "status", instance.Status)

		return nil
	}

	instance.Status = models.InstanceStatusRunning
	instance.RunnerID = w.id

	if err := w.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		logger.Error("Failed to claim job instance", "error", err)

		return err
	}

	w.publishStarted(ctx, scheduled)

	workflow, run, loadErr := w.loadRunContext(ctx, scheduled)
	if loadErr != nil {
		failInstance(instance, loadErr)
		w.saveInstance(ctx, logger, instance)
		w.publishFailed(ctx, scheduled, instance, loadErr)

		return nil
	}

	workspace := filepath.Join(w.workspaceRoot, instance.ID)

	start := time.Now()
	execErr := w.executor.ExecuteInstance(ctx, workflow, run, instance, workspace)
	duration := time.Since(start)

	// Workspaces are ephemeral; uploaded artifacts live in the artifact
	// store.
	if err := os.RemoveAll(workspace); err != nil {
		logger.Warn("Failed to clean up workspace", "workspace", workspace, "error", err)
	}

	w.saveInstance(ctx, logger, instance)

	if execErr != nil {
		w.publishFailed(ctx, scheduled, instance, execErr)

		logger.Error("Job instance failed", "duration", duration, "error", execErr)

		return nil
	}

	w.publishFinished(ctx, scheduled, instance, duration)

	logger.Info("Job instance finished", "duration", duration)

	return nil
}

// loadRunContext fetches the workflow and run an instance belongs to.
func (w *Worker) loadRunContext(ctx context.Context, scheduled *events.JobInstanceScheduled) (*models.Workflow, *models.Run, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, scheduled.WorkflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil {
		return nil, nil, fmt.Errorf("workflow %s not found", scheduled.WorkflowID)
	}

	run, err := w.persistence.RunRepository().GetByID(ctx, scheduled.RunID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run: %w", err)
	}

	if run == nil {
		return nil, nil, fmt.Errorf("run %s not found", scheduled.RunID)
	}

	return workflow, run, nil
}

func (w *Worker) saveInstance(ctx context.Context, logger *slog.Logger, instance *models.JobInstance) {
	if err := w.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		logger.Error("Failed to save job instance", "error", err)
	}
}

func (w *Worker) publishStarted(ctx context.Context, scheduled *events.JobInstanceScheduled) {
	event := events.JobInstanceStarted{
		BaseEvent:  events.NewBaseEvent(events.JobInstanceStartedEvent, scheduled.WorkflowID),
		InstanceID: scheduled.InstanceID,
		RunID:      scheduled.RunID,
		JobID:      scheduled.JobID,
	}
	event.RunnerID = w.id

	if err := w.eventBus.Publish(ctx, scheduled.RunID, event); err != nil {
		w.logger.Error("Failed to publish job started event", "error", err)
	}
}

func (w *Worker) publishFinished(ctx context.Context, scheduled *events.JobInstanceScheduled, instance *models.JobInstance, duration time.Duration) {
	event := events.JobInstanceFinished{
		BaseEvent:   events.NewBaseEvent(events.JobInstanceFinishedEvent, scheduled.WorkflowID),
		InstanceID:  scheduled.InstanceID,
		RunID:       scheduled.RunID,
		JobID:       scheduled.JobID,
		StepResults: instance.StepResults,
		Duration:    duration,
	}
	event.RunnerID = w.id

	if err := w.eventBus.Publish(ctx, scheduled.RunID, event); err != nil {
		w.logger.Error("Failed to publish job finished event", "error", err)
	}
}

func (w *Worker) publishFailed(ctx context.Context, scheduled *events.JobInstanceScheduled, instance *models.JobInstance, execErr error) {
	event := events.JobInstanceFailed{
		BaseEvent:   events.NewBaseEvent(events.JobInstanceFailedEvent, scheduled.WorkflowID),
		InstanceID:  scheduled.InstanceID,
		RunID:       scheduled.RunID,
		JobID:       scheduled.JobID,
		FailedStep:  firstFailedStep(instance),
		Error:       execErr.Error(),
		StepResults: instance.StepResults,
	}
	event.RunnerID = w.id

	if err := w.eventBus.Publish(ctx, scheduled.RunID, event); err != nil {
		w.logger.Error("Failed to publish job failed event", "error", err)
	}
}

func firstFailedStep(instance *models.JobInstance) string {
	for _, result := range instance.StepResults {
		if result.Status == models.StepStatusFailed {
			return result.UID
		}
	}

	return ""
}
