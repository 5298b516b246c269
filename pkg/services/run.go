package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = persistence.ErrRunNotFound

// Run handles read access to triggered runs and their job instances.
type Run struct {
	persistence persistence.Persistence
}

// NewRun creates a new run service.
func NewRun(persistence persistence.Persistence) *Run {
	return &Run{
		persistence: persistence,
	}
}

// ListRunsRequest contains options for listing runs.
type ListRunsRequest struct {
	WorkflowID string
	Status     *models.RunStatus

	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`
}

// ListRunsResponse contains one page of runs, newest first.
type ListRunsResponse struct {
	Runs        []*models.Run `json:"runs"`
	TotalCount  int64         `json:"total_count"`
	HasNextPage bool          `json:"has_next_page"`
}

// ListRuns retrieves runs with filtering and pagination.
func (r *Run) ListRuns(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error) {
	if err := r.validateListRunsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	result, err := r.persistence.RunRepository().ListRuns(ctx, persistence.ListRunsOptions{
		WorkflowID: req.WorkflowID,
		Status:     req.Status,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return &ListRunsResponse{
		Runs:        result.Runs,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func (r *Run) validateListRunsRequest(req *ListRunsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Status != nil {
		allowedStatuses := []models.RunStatus{
			models.RunStatusPending,
			models.RunStatusRunning,
			models.RunStatusCompleted,
			models.RunStatusFailed,
		}

		if !slices.Contains(allowedStatuses, *req.Status) {
			return NewValidationError(
				"validateListRunsRequest",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	return nil
}

// FetchByID retrieves a run by its ID.
func (r *Run) FetchByID(ctx context.Context, id string) (*models.Run, error) {
	run, err := r.persistence.RunRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if run == nil {
		return nil, ErrRunNotFound
	}

	return run, nil
}

// ListInstances returns the job instances a run expanded into.
func (r *Run) ListInstances(ctx context.Context, runID string) ([]*models.JobInstance, error) {
	if _, err := r.FetchByID(ctx, runID); err != nil {
		return nil, err
	}

	instances, err := r.persistence.InstanceRepository().ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job instances: %w", err)
	}

	return instances, nil
}
