package services

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

// Publishing handles workflow publishing. Only published workflows are
// matched by incoming repository events; drafts stay dispatchable by hand.
type Publishing struct {
	persistence persistence.Persistence
}

// NewPublishing creates a new workflow publishing service.
func NewPublishing(persistence persistence.Persistence) *Publishing {
	return &Publishing{
		persistence: persistence,
	}
}

// PublishWorkflow validates a workflow and marks it published. Any
// previously published version with the same name is unpublished by the
// repository.
func (p *Publishing) PublishWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if err := p.validateForPublishing(workflow); err != nil {
		return nil, err
	}

	if err := p.persistence.WorkflowRepository().PublishWorkflow(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
}

// UnpublishWorkflow retires the published version. The workflow stops
// matching repository events but keeps its definition for manual dispatch.
func (p *Publishing) UnpublishWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if workflow.Status != models.WorkflowStatusPublished {
		return nil, ErrNotPublished
	}

	workflow.Status = models.WorkflowStatusUnpublished
	workflow.UpdatedAt = time.Now().UTC()

	if err := p.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to unpublish workflow: %w", err)
	}

	return workflow, nil
}

// IsPublished checks whether a workflow is currently published.
func (p *Publishing) IsPublished(ctx context.Context, workflowID string) (bool, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return false, fmt.Errorf("failed to get workflow: %w", err)
	}

	if workflow == nil {
		return false, ErrWorkflowNotFound
	}

	return workflow.Status == models.WorkflowStatusPublished, nil
}

// validateForPublishing checks if a workflow is ready to be published.
func (p *Publishing) validateForPublishing(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if workflow.Status == models.WorkflowStatusPublished {
		return ErrAlreadyPublished
	}

	if workflow.Name == "" {
		return ErrWorkflowNameRequired
	}

	if len(workflow.Jobs) == 0 {
		return ErrJobsRequired
	}

	for _, job := range workflow.Jobs {
		if len(job.Steps) == 0 {
			return fmt.Errorf("job %q: %w", job.ID, ErrStepsRequired)
		}
	}

	if len(workflow.Triggers) == 0 {
		return ErrTriggersRequired
	}

	return nil
}
