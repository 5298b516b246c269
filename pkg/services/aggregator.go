package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/eventbus"
	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

// RunAggregator folds job instance lifecycle events back into run state: the
// first started instance moves the run to running, and once every instance
// is terminal the run finishes or fails and a summary event is published.
type RunAggregator struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger
}

// NewRunAggregator creates a new run aggregator.
func NewRunAggregator(p persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *RunAggregator {
	return &RunAggregator{
		persistence: p,
		eventBus:    eventBus,
		logger:      logger.With("module", "run_aggregator"),
	}
}

// Start registers the lifecycle handlers and begins consuming.
func (a *RunAggregator) Start(ctx context.Context) error {
	if err := a.eventBus.Handle(events.JobInstanceStartedEvent, a.handleJobInstanceStarted); err != nil {
		return err
	}

	if err := a.eventBus.Handle(events.JobInstanceFinishedEvent, a.handleInstanceTerminal); err != nil {
		return err
	}

	if err := a.eventBus.Handle(events.JobInstanceFailedEvent, a.handleInstanceTerminal); err != nil {
		return err
	}

	return a.eventBus.Subscribe(ctx)
}

func (a *RunAggregator) handleJobInstanceStarted(ctx context.Context, event interface{}) error {
	started, ok := event.(*events.JobInstanceStarted)
	if !ok {
		a.logger.Error("Invalid event type for job.started", "event", fmt.Sprintf("%T", event))

		return nil
	}

	run, err := a.persistence.RunRepository().GetByID(ctx, started.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", started.RunID, err)
	}

	if run == nil {
		a.logger.Error("Run not found for started instance", "run_id", started.RunID, "instance_id", started.InstanceID)

		return nil
	}

	// Only the first instance of the run flips it to running.
	if run.StartedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &now

	if err := a.persistence.RunRepository().Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	a.logger.Info("Run started", "run_id", run.ID, "workflow_id", run.WorkflowID)

	return nil
}

func (a *RunAggregator) handleInstanceTerminal(ctx context.Context, event interface{}) error {
	var runID string

	switch e := event.(type) {
	case *events.JobInstanceFinished:
		runID = e.RunID
	case *events.JobInstanceFailed:
		runID = e.RunID
	default:
		a.logger.Error("Invalid event type for terminal instance", "event", fmt.Sprintf("%T", event))

		return nil
	}

	return a.finalizeRun(ctx, runID)
}

// finalizeRun closes the run once every instance is terminal. Terminal runs
// are left untouched, so replayed events cannot finish a run twice.
func (a *RunAggregator) finalizeRun(ctx context.Context, runID string) error {
	run, err := a.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run == nil {
		a.logger.Error("Run not found for terminal instance", "run_id", runID)

		return nil
	}

	if run.Status.IsTerminal() {
		return nil
	}

	instances, err := a.persistence.InstanceRepository().ListByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list instances for run %s: %w", runID, err)
	}

	if len(instances) == 0 {
		a.logger.Warn("Run has no instances to aggregate", "run_id", runID)

		return nil
	}

	failed := 0

	for _, instance := range instances {
		if !instance.Status.IsTerminal() {
			return nil
		}

		if instance.Status == models.InstanceStatusFailed {
			failed++
		}
	}

	now := time.Now().UTC()
	since := run.CreatedAt

	if run.StartedAt != nil {
		since = *run.StartedAt
	}

	duration := now.Sub(since)
	run.FinishedAt = &now

	if failed > 0 {
		run.Status = models.RunStatusFailed
	} else {
		run.Status = models.RunStatusCompleted
	}

	if err := a.persistence.RunRepository().Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	if err := a.publishRunResult(ctx, run, len(instances), failed, duration); err != nil {
		a.logger.Error("Failed to publish run result", "run_id", run.ID, "error", err)
	}

	a.logger.Info("Run finished",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"status", run.Status,
		"instances", len(instances),
		"failed_instances", failed,
		"duration", duration)

	return nil
}

func (a *RunAggregator) publishRunResult(ctx context.Context, run *models.Run, instances, failed int, duration time.Duration) error {
	if failed > 0 {
		return a.eventBus.Publish(ctx, run.ID, events.RunFailed{
			BaseEvent:       events.NewBaseEvent(events.RunFailedEvent, run.WorkflowID),
			RunID:           run.ID,
			Instances:       instances,
			FailedInstances: failed,
			Duration:        duration,
		})
	}

	return a.eventBus.Publish(ctx, run.ID, events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, run.WorkflowID),
		RunID:     run.ID,
		Instances: instances,
		Duration:  duration,
	})
}
