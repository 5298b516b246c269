package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"job_instances", "runs", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("conveyor_test"),
			postgres.WithUsername("conveyor"),
			postgres.WithPassword("conveyor"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func testWorkflow(name string) *models.Workflow {
	return &models.Workflow{
		Name:        name,
		Description: "A test workflow",
		Status:      models.WorkflowStatusDraft,
		Triggers: []*models.TriggerRule{
			{Event: models.EventPush, Branches: []string{"main"}},
			{Event: models.EventPullRequest, Branches: []string{"main"}},
		},
		Jobs: []*models.Job{
			{
				ID:     "build",
				RunsOn: "${{ matrix.os }}",
				Strategy: &models.Strategy{
					Matrix: &models.Matrix{
						Axes: map[string][]any{"os": {"ubuntu-latest", "windows-latest"}},
					},
				},
				Steps: []*models.Step{
					{UID: "checkout", Uses: "actions/checkout@v4"},
					{UID: "compile", Run: "cargo build --release", WorkingDirectory: "./canary-context"},
				},
			},
		},
		Env:      map[string]string{"CARGO_TERM_COLOR": "always"},
		Metadata: map[string]any{"created_by": "test"},
		Owner:    "test-user",
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	// Verify tables were created
	for _, table := range []string{"workflows", "runs", "job_instances", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	// All migrations applied in order
	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testWorkflow("Canary CI")

	err := p.WorkflowRepository().Save(ctx, workflow)
	require.NoError(t, err)
	assert.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())

	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, workflow.ID, retrieved.ID)
	assert.Equal(t, workflow.Name, retrieved.Name)
	assert.Equal(t, workflow.Status, retrieved.Status)
	assert.Equal(t, workflow.Owner, retrieved.Owner)
	assert.Equal(t, "always", retrieved.Env["CARGO_TERM_COLOR"])
	assert.Equal(t, "test", retrieved.Metadata["created_by"])

	require.Len(t, retrieved.Triggers, 2)
	assert.Equal(t, models.EventPush, retrieved.Triggers[0].Event)

	require.Len(t, retrieved.Jobs, 1)
	require.NotNil(t, retrieved.Jobs[0].Strategy)
	require.NotNil(t, retrieved.Jobs[0].Strategy.Matrix)
	assert.Len(t, retrieved.Jobs[0].Strategy.Matrix.Axes["os"], 2)
	assert.Len(t, retrieved.Jobs[0].Steps, 2)

	// Retrieving a non-existent workflow returns nil without error
	notFound, err := p.WorkflowRepository().GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestWorkflowRepository_Update(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testWorkflow("Canary CI")

	err := p.WorkflowRepository().Save(ctx, workflow)
	require.NoError(t, err)

	initialUpdatedAt := workflow.UpdatedAt

	// Wait a moment to ensure different timestamp
	time.Sleep(10 * time.Millisecond)

	workflow.Name = "Updated Canary CI"
	workflow.Description = "An updated test workflow"

	err = p.WorkflowRepository().Save(ctx, workflow)
	require.NoError(t, err)

	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, "Updated Canary CI", retrieved.Name)
	assert.Equal(t, "An updated test workflow", retrieved.Description)
	assert.True(t, retrieved.UpdatedAt.After(initialUpdatedAt))
}

func TestWorkflowRepository_List(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	first := testWorkflow("First")
	second := testWorkflow("Second")
	second.Status = models.WorkflowStatusPublished
	second.Owner = "other-user"

	for _, workflow := range []*models.Workflow{first, second} {
		err := p.WorkflowRepository().Save(ctx, workflow)
		require.NoError(t, err)
	}

	result, err := p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Workflows, 2)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.False(t, result.HasNextPage)

	// Filter by status
	published := models.WorkflowStatusPublished
	result, err = p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{Status: &published})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "Second", result.Workflows[0].Name)

	// Filter by owner
	result, err = p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{OwnerID: "test-user"})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "First", result.Workflows[0].Name)

	// Invalid sort fields are rejected
	_, err = p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{SortBy: "id; DROP TABLE workflows"})
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidSortField(err))
}

func TestWorkflowRepository_Delete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testWorkflow("To Delete")

	err := p.WorkflowRepository().Save(ctx, workflow)
	require.NoError(t, err)

	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	err = p.WorkflowRepository().Delete(ctx, workflow.ID)
	require.NoError(t, err)

	// Verify it's gone (soft delete)
	deleted, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)

	// Delete non-existent workflow (should not error)
	err = p.WorkflowRepository().Delete(ctx, uuid.NewString())
	assert.NoError(t, err)
}

func TestWorkflowRepository_Publish(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	old := testWorkflow("canary-ci")
	old.Status = models.WorkflowStatusPublished
	next := testWorkflow("canary-ci")
	other := testWorkflow("different")
	other.Status = models.WorkflowStatusPublished

	for _, workflow := range []*models.Workflow{old, next, other} {
		err := p.WorkflowRepository().Save(ctx, workflow)
		require.NoError(t, err)
	}

	err := p.WorkflowRepository().PublishWorkflow(ctx, next.ID)
	require.NoError(t, err)

	// The previously published version with the same name is unpublished
	oldReloaded, err := p.WorkflowRepository().GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusUnpublished, oldReloaded.Status)

	nextReloaded, err := p.WorkflowRepository().GetByID(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, nextReloaded.Status)
	assert.NotNil(t, nextReloaded.PublishedAt)

	// Workflows with other names are untouched
	otherReloaded, err := p.WorkflowRepository().GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, otherReloaded.Status)

	// Publishing a missing workflow fails with a typed error
	err = p.WorkflowRepository().PublishWorkflow(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestRunRepository_SaveAndList(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testWorkflow("Canary CI")
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	runs := []*models.Run{
		{WorkflowID: workflow.ID, Event: models.EventPush, Branch: "main", Commit: "abc123", Status: models.RunStatusCompleted, CreatedAt: base},
		{WorkflowID: workflow.ID, Event: models.EventPullRequest, Branch: "main", Status: models.RunStatusFailed, CreatedAt: base.Add(time.Minute)},
		{WorkflowID: uuid.NewString(), Event: models.EventPush, Branch: "main", Status: models.RunStatusRunning, CreatedAt: base.Add(2 * time.Minute)},
	}

	for _, run := range runs {
		err := p.RunRepository().Save(ctx, run)
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
	}

	// Newest first
	result, err := p.RunRepository().ListRuns(ctx, persistence.ListRunsOptions{})
	require.NoError(t, err)
	require.Len(t, result.Runs, 3)
	assert.Equal(t, models.RunStatusRunning, result.Runs[0].Status)

	// Filter by workflow
	result, err = p.RunRepository().ListRuns(ctx, persistence.ListRunsOptions{WorkflowID: workflow.ID})
	require.NoError(t, err)
	assert.Len(t, result.Runs, 2)

	// Filter by status
	failed := models.RunStatusFailed
	result, err = p.RunRepository().ListRuns(ctx, persistence.ListRunsOptions{Status: &failed})
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, models.EventPullRequest, result.Runs[0].Event)

	// Round trip with event data
	fetched, err := p.RunRepository().GetByID(ctx, runs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "abc123", fetched.Commit)

	// Missing run returns nil without error
	missing, err := p.RunRepository().GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInstanceRepository_SaveAndListByRun(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	run := &models.Run{WorkflowID: uuid.NewString(), Event: models.EventPush, Status: models.RunStatusRunning}
	require.NoError(t, p.RunRepository().Save(ctx, run))

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	instances := []*models.JobInstance{
		{
			ID:         "inst-b",
			RunID:      run.ID,
			WorkflowID: run.WorkflowID,
			JobID:      "build",
			RunsOn:     "windows-latest",
			Matrix:     map[string]any{"os": "windows-latest"},
			Status:     models.InstanceStatusQueued,
			CreatedAt:  created,
		},
		{
			ID:         "inst-a",
			RunID:      run.ID,
			WorkflowID: run.WorkflowID,
			JobID:      "build",
			RunsOn:     "ubuntu-latest",
			Matrix:     map[string]any{"os": "ubuntu-latest"},
			Status:     models.InstanceStatusQueued,
			CreatedAt:  created,
		},
	}

	for _, instance := range instances {
		require.NoError(t, p.InstanceRepository().Save(ctx, instance))
	}

	listed, err := p.InstanceRepository().ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	// Equal creation times fall back to ID ordering
	assert.Equal(t, "inst-a", listed[0].ID)
	assert.Equal(t, "inst-b", listed[1].ID)

	// Status updates round trip through step results
	now := time.Now().UTC()
	listed[0].Status = models.InstanceStatusCompleted
	listed[0].FinishedAt = &now
	listed[0].StepResults = []*models.StepResult{
		{UID: "checkout", Name: "Check out repository", Status: models.StepStatusCompleted, ExitCode: 0},
		{UID: "compile", Name: "Build release binary", Status: models.StepStatusCompleted, ExitCode: 0},
	}

	require.NoError(t, p.InstanceRepository().Save(ctx, listed[0]))

	fetched, err := p.InstanceRepository().GetByID(ctx, "inst-a")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, models.InstanceStatusCompleted, fetched.Status)
	require.Len(t, fetched.StepResults, 2)
	assert.Equal(t, "checkout", fetched.StepResults[0].UID)
	require.NotNil(t, fetched.FinishedAt)

	// Missing instance returns nil without error
	missing, err := p.InstanceRepository().GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
