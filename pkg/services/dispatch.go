package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/eventbus"
	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/conveyor-ci/conveyor/pkg/expression"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/otelhelper"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DispatchService turns repository events into runs: it evaluates trigger
// rules against published workflows, creates the run and its
// matrix-expanded job instances, and announces them on the event bus.
type DispatchService struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	matcher     *TriggerMatcher
	validate    *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewDispatchService creates a new dispatch service.
func NewDispatchService(p persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger) *DispatchService {
	return &DispatchService{
		persistence: p,
		eventBus:    eventBus,
		matcher:     NewTriggerMatcher(logger),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tracer:      otel.Tracer("conveyor.dispatcher"),
		logger:      logger.With("module", "dispatch"),
	}
}

// Start registers the source event handler and begins consuming.
func (d *DispatchService) Start(ctx context.Context, sourceBus eventbus.SourceEventBus) error {
	if err := sourceBus.HandleSourceEvents(d.HandleSourceEvent); err != nil {
		return err
	}

	return sourceBus.SubscribeToSourceEvents(ctx)
}

// HandleSourceEvent evaluates one repository event. Malformed events are
// discarded; dispatch failures for individual workflows are logged without
// blocking the remaining matches.
func (d *DispatchService) HandleSourceEvent(ctx context.Context, sourceEvent *events.SourceEvent) error {
	logger := d.logger.With(
		"provider_id", sourceEvent.ProviderID,
		"source_id", sourceEvent.SourceID,
		"event_name", sourceEvent.EventName,
	)

	if err := d.validate.Struct(sourceEvent); err != nil {
		logger.Error("Discarding invalid source event", "error", err)

		return nil
	}

	// Schedule and manual dispatch events target one workflow directly
	// instead of broadcasting to every published workflow.
	if workflowID := sourceEvent.WorkflowID(); workflowID != "" {
		return d.dispatchTargeted(ctx, logger, sourceEvent, workflowID)
	}

	workflows, err := listPublishedWorkflows(ctx, d.persistence)
	if err != nil {
		return err
	}

	matches := d.matcher.MatchWorkflows(sourceEvent, workflows)

	for _, match := range matches {
		if _, err := d.DispatchWorkflow(ctx, match.Workflow, sourceEvent.EventName, sourceEvent.EventData); err != nil {
			logger.Error("Failed to dispatch workflow", "workflow_id", match.Workflow.ID, "error", err)
		}
	}

	return nil
}

func (d *DispatchService) dispatchTargeted(ctx context.Context, logger *slog.Logger, sourceEvent *events.SourceEvent, workflowID string) error {
	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if workflow == nil {
		logger.Error("Targeted workflow not found", "workflow_id", workflowID)

		return nil
	}

	// Schedule events fire only for the published version; a workflow
	// unpublished after the cron was registered is skipped.
	if sourceEvent.EventName == models.EventSchedule && !workflow.IsTriggerable() {
		logger.Info("Skipping schedule event for unpublished workflow", "workflow_id", workflowID)

		return nil
	}

	if _, err := d.DispatchWorkflow(ctx, workflow, sourceEvent.EventName, sourceEvent.EventData); err != nil {
		logger.Error("Failed to dispatch workflow", "workflow_id", workflowID, "error", err)
	}

	return nil
}

// DispatchRequest is a manual dispatch submitted through the API.
type DispatchRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Event      string         `json:"event"       validate:"omitempty,oneof=push pull_request schedule workflow_dispatch"`
	Branch     string         `json:"branch,omitempty"`
	Commit     string         `json:"commit,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
}

// Dispatch schedules a run by hand. Unlike repository events this works for
// drafts too, so workflows can be exercised before publishing.
func (d *DispatchService) Dispatch(ctx context.Context, req DispatchRequest) (*models.Run, error) {
	if err := d.validate.Struct(req); err != nil {
		return nil, NewValidationError("Dispatch", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	if req.Event == "" {
		req.Event = models.EventDispatch
	}

	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil || workflow.DeletedAt != nil {
		return nil, ErrWorkflowNotFound
	}

	eventData := map[string]any{"event": req.Event}

	if req.Branch != "" {
		eventData["branch"] = req.Branch
	}

	if req.Commit != "" {
		eventData["commit"] = req.Commit
	}

	if len(req.Inputs) > 0 {
		eventData["inputs"] = req.Inputs
	}

	return d.DispatchWorkflow(ctx, workflow, req.Event, eventData)
}

// Redispatch schedules a fresh run with the event data of a finished one.
func (d *DispatchService) Redispatch(ctx context.Context, runID string) (*models.Run, error) {
	run, err := d.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	if run == nil {
		return nil, ErrRunNotFound
	}

	if !run.Status.IsTerminal() {
		return nil, ErrRunNotTerminal
	}

	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, run.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return d.DispatchWorkflow(ctx, workflow, run.Event, run.EventData)
}

// DispatchWorkflow creates a run, expands every job's matrix into queued
// instances and publishes run.triggered followed by one job.scheduled per
// instance, all keyed by the run ID.
func (d *DispatchService) DispatchWorkflow(ctx context.Context, workflow *models.Workflow, eventName string, eventData map[string]any) (*models.Run, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.workflow",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.EventNameKey, eventName),
	)
	defer span.End()

	now := time.Now().UTC()

	data := maps.Clone(eventData)
	if data == nil {
		data = make(map[string]any)
	}

	if _, ok := data["event"]; !ok {
		data["event"] = eventName
	}

	branch, _ := data["branch"].(string)
	commit, _ := data["commit"].(string)

	run := &models.Run{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Event:      eventName,
		Branch:     branch,
		Commit:     commit,
		Status:     models.RunStatusPending,
		EventData:  data,
		CreatedAt:  now,
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	if err := d.persistence.RunRepository().Save(ctx, run); err != nil {
		err = fmt.Errorf("failed to save run: %w", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	instances, err := d.expandInstances(ctx, workflow, run, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	triggered := events.RunTriggered{
		BaseEvent:     events.NewBaseEvent(events.RunTriggeredEvent, workflow.ID),
		RunID:         run.ID,
		Event:         run.Event,
		Branch:        run.Branch,
		Commit:        run.Commit,
		EventData:     data,
		InstanceCount: len(instances),
	}

	if err := d.eventBus.Publish(ctx, run.ID, triggered); err != nil {
		err = fmt.Errorf("failed to publish run.triggered: %w", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	for _, instance := range instances {
		scheduled := events.JobInstanceScheduled{
			BaseEvent:  events.NewBaseEvent(events.JobInstanceScheduledEvent, workflow.ID),
			InstanceID: instance.ID,
			RunID:      run.ID,
			JobID:      instance.JobID,
			RunsOn:     instance.RunsOn,
			Matrix:     instance.Matrix,
		}

		if err := d.eventBus.Publish(ctx, run.ID, scheduled); err != nil {
			err = fmt.Errorf("failed to publish job.scheduled for instance %s: %w", instance.ID, err)
			otelhelper.SetError(span, err)

			return nil, err
		}
	}

	d.logger.Info("Dispatched run",
		"workflow_id", workflow.ID,
		"run_id", run.ID,
		"event", run.Event,
		"branch", run.Branch,
		"instances", len(instances))

	return run, nil
}

// expandInstances creates one queued instance per job and matrix
// combination. The runs-on label is interpolated here so runners can filter
// on the concrete value.
func (d *DispatchService) expandInstances(ctx context.Context, workflow *models.Workflow, run *models.Run, now time.Time) ([]*models.JobInstance, error) {
	var instances []*models.JobInstance

	for _, job := range workflow.Jobs {
		for _, combination := range job.MatrixCombinations() {
			env := map[string]any{"matrix": combination, "event": run.EventData}

			runsOn, err := expression.Interpolate(job.RunsOn, env)
			if err != nil {
				return nil, fmt.Errorf("job %q: invalid runs-on %q: %w", job.ID, job.RunsOn, err)
			}

			matrix := combination
			if len(matrix) == 0 {
				matrix = nil
			}

			instance := &models.JobInstance{
				ID:         uuid.New().String(),
				RunID:      run.ID,
				WorkflowID: workflow.ID,
				JobID:      job.ID,
				RunsOn:     runsOn,
				Matrix:     matrix,
				Status:     models.InstanceStatusQueued,
				CreatedAt:  now,
			}

			if err := d.persistence.InstanceRepository().Save(ctx, instance); err != nil {
				return nil, fmt.Errorf("failed to save job instance: %w", err)
			}

			instances = append(instances, instance)
		}
	}

	return instances, nil
}
