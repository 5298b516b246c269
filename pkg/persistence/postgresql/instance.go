package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// InstanceRepository handles job instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new job instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
		id
	  , run_id
	  , workflow_id
	  , job_id
	  , runs_on
	  , matrix
	  , status
	  , step_results
	  , runner_id
	  , failure_reason
	  , created_at
	  , started_at
	  , finished_at
`

// GetByID returns a job instance by its ID, or nil when no such instance exists.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.JobInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM job_instances
		WHERE id = $1
	`, instanceColumns)

	row := r.db.QueryRowContext(ctx, query, id)

	instance, err := r.scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan job instance: %w", err)
	}

	return instance, nil
}

// ListByRun returns all job instances belonging to a run, ordered by
// creation time and ID for a stable listing.
func (r *InstanceRepository) ListByRun(ctx context.Context, runID string) ([]*models.JobInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM job_instances
		WHERE run_id = $1
		ORDER BY created_at, id
	`, instanceColumns)

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.JobInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating job instances: %w", err)
	}

	return instances, nil
}

// Save saves a job instance to the database.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.JobInstance) error {
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = time.Now().UTC()
	}

	matrixJSON, err := json.Marshal(instance.Matrix)
	if err != nil {
		return fmt.Errorf("failed to marshal matrix: %w", err)
	}

	stepResultsJSON, err := json.Marshal(instance.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	query := `
		INSERT INTO job_instances (id, run_id, workflow_id, job_id, runs_on, matrix, status, step_results, runner_id, failure_reason, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			step_results = EXCLUDED.step_results,
			runner_id = EXCLUDED.runner_id,
			failure_reason = EXCLUDED.failure_reason,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.RunID,
		instance.WorkflowID,
		instance.JobID,
		instance.RunsOn,
		matrixJSON,
		instance.Status,
		stepResultsJSON,
		instance.RunnerID,
		instance.FailureReason,
		instance.CreatedAt,
		instance.StartedAt,
		instance.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) scanInstance(scanner interface {
	Scan(dest ...any) error
}) (*models.JobInstance, error) {
	var (
		instance                    models.JobInstance
		matrixJSON, stepResultsJSON []byte
	)

	err := scanner.Scan(
		&instance.ID,
		&instance.RunID,
		&instance.WorkflowID,
		&instance.JobID,
		&instance.RunsOn,
		&matrixJSON,
		&instance.Status,
		&stepResultsJSON,
		&instance.RunnerID,
		&instance.FailureReason,
		&instance.CreatedAt,
		&instance.StartedAt,
		&instance.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if matrixJSON != nil {
		err := json.Unmarshal(matrixJSON, &instance.Matrix)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal matrix: %w", err)
		}
	}

	if stepResultsJSON != nil {
		err := json.Unmarshal(stepResultsJSON, &instance.StepResults)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}

	return &instance, nil
}
