// Package persistence provides the data storage abstraction for workflows, runs and job instances.
package persistence

import (
	"context"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// ListWorkflowsOptions controls filtering, sorting and pagination for
// workflow listings.
type ListWorkflowsOptions struct {
	Status    *models.WorkflowStatus
	OwnerID   string
	Limit     int
	Offset    int
	SortBy    string // created_at, updated_at, name
	SortOrder string // asc, desc
}

// WorkflowListResult is one page of workflows plus paging metadata.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// ListRunsOptions controls filtering and pagination for run listings. Runs
// are always ordered newest first.
type ListRunsOptions struct {
	WorkflowID string
	Status     *models.RunStatus
	Limit      int
	Offset     int
}

// RunListResult is one page of runs plus paging metadata.
type RunListResult struct {
	Runs        []*models.Run
	TotalCount  int64
	HasNextPage bool
}

// WorkflowRepository stores compiled workflows.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)

	// GetByID returns nil, nil when no workflow exists with the given ID.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error

	// PublishWorkflow marks the workflow published and unpublishes any
	// previously published version with the same name.
	PublishWorkflow(ctx context.Context, id string) error
}

// RunRepository stores triggered runs.
type RunRepository interface {
	ListRuns(ctx context.Context, opts ListRunsOptions) (*RunListResult, error)

	// GetByID returns nil, nil when no run exists with the given ID.
	GetByID(ctx context.Context, id string) (*models.Run, error)
	Save(ctx context.Context, run *models.Run) error
}

// InstanceRepository stores the job instances a run expanded into.
type InstanceRepository interface {
	// GetByID returns nil, nil when no instance exists with the given ID.
	GetByID(ctx context.Context, id string) (*models.JobInstance, error)
	ListByRun(ctx context.Context, runID string) ([]*models.JobInstance, error)
	Save(ctx context.Context, instance *models.JobInstance) error
}

// Persistence is the storage backend surface shared by the file and
// PostgreSQL implementations.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	InstanceRepository() InstanceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
