package file

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	// Test with file:// prefix
	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Close(t *testing.T) {
	p := NewPersistence("./test-data")
	err := p.Close(t.Context())
	assert.NoError(t, err)
}

func TestWorkflowRepository_Save(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	workflow := &models.Workflow{
		ID:     "test-workflow",
		Name:   "Test Workflow",
		Status: models.WorkflowStatusDraft,
		Jobs: []*models.Job{
			{
				ID:     "build",
				RunsOn: "ubuntu-latest",
				Steps: []*models.Step{
					{UID: "checkout", Uses: "actions/checkout@v4"},
				},
			},
		},
	}

	// Save workflow
	err := repo.Save(t.Context(), workflow)
	require.NoError(t, err)

	// Verify file was created
	filePath := filepath.Join(testDir, "workflows", "test-workflow.json")
	assert.FileExists(t, filePath)

	// Verify timestamps were set
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())
}

func TestWorkflowRepository_Save_UpdatesTimestamp(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	workflow := &models.Workflow{
		ID:        "update-workflow",
		Name:      "Update Test Workflow",
		CreatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	err := repo.Save(t.Context(), workflow)
	require.NoError(t, err)

	// Verify CreatedAt was preserved and UpdatedAt was set
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), workflow.CreatedAt)
	assert.True(t, workflow.UpdatedAt.After(workflow.CreatedAt))
}

func TestWorkflowRepository_GetByID(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	original := &models.Workflow{
		ID:          "fetch-workflow",
		Name:        "Fetch Test Workflow",
		Description: "Workflow used in fetch tests",
		Status:      models.WorkflowStatusPublished,
		Triggers: []*models.TriggerRule{
			{Event: models.EventPush, Branches: []string{"main"}},
		},
		Jobs: []*models.Job{
			{
				ID:     "build",
				RunsOn: "ubuntu-latest",
				Steps: []*models.Step{
					{UID: "checkout", Uses: "actions/checkout@v4"},
					{UID: "compile", Run: "cargo build --release"},
				},
			},
		},
	}

	err := repo.Save(t.Context(), original)
	require.NoError(t, err)

	fetched, err := repo.GetByID(t.Context(), "fetch-workflow")
	require.NoError(t, err)
	require.NotNil(t, fetched)

	assert.Equal(t, "fetch-workflow", fetched.ID)
	assert.Equal(t, "Fetch Test Workflow", fetched.Name)
	assert.Equal(t, models.WorkflowStatusPublished, fetched.Status)
	require.Len(t, fetched.Triggers, 1)
	assert.Equal(t, models.EventPush, fetched.Triggers[0].Event)
	require.Len(t, fetched.Jobs, 1)
	assert.Len(t, fetched.Jobs[0].Steps, 2)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	workflow, err := repo.GetByID(t.Context(), "non-existent")
	require.NoError(t, err)
	require.Nil(t, workflow)
}

func TestWorkflowRepository_ListWorkflows(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	workflows := []*models.Workflow{
		{ID: "workflow-1", Name: "First", Status: models.WorkflowStatusPublished, Owner: "alice"},
		{ID: "workflow-2", Name: "Second", Status: models.WorkflowStatusDraft, Owner: "bob"},
		{ID: "workflow-3", Name: "Third", Status: models.WorkflowStatusPublished, Owner: "alice"},
	}

	for _, workflow := range workflows {
		err := repo.Save(t.Context(), workflow)
		require.NoError(t, err)
	}

	result, err := repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 3)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.False(t, result.HasNextPage)
}

func TestWorkflowRepository_ListWorkflows_StatusFilter(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	published := models.WorkflowStatusPublished

	for _, workflow := range []*models.Workflow{
		{ID: "workflow-1", Name: "First", Status: models.WorkflowStatusPublished},
		{ID: "workflow-2", Name: "Second", Status: models.WorkflowStatusDraft},
	} {
		require.NoError(t, repo.Save(t.Context(), workflow))
	}

	result, err := repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{Status: &published})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "workflow-1", result.Workflows[0].ID)
}

func TestWorkflowRepository_ListWorkflows_Pagination(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	for _, workflow := range []*models.Workflow{
		{ID: "workflow-a", Name: "Alpha"},
		{ID: "workflow-b", Name: "Beta"},
		{ID: "workflow-c", Name: "Gamma"},
	} {
		require.NoError(t, repo.Save(t.Context(), workflow))
	}

	result, err := repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{
		SortBy:    "name",
		SortOrder: "asc",
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
	assert.Equal(t, "Alpha", result.Workflows[0].Name)
	assert.Equal(t, "Beta", result.Workflows[1].Name)

	result, err = repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{
		SortBy:    "name",
		SortOrder: "asc",
		Limit:     2,
		Offset:    2,
	})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.False(t, result.HasNextPage)
	assert.Equal(t, "Gamma", result.Workflows[0].Name)
}

func TestWorkflowRepository_ListWorkflows_InvalidSortField(t *testing.T) {
	tempDir := t.TempDir()
	repo := NewWorkflowRepository(tempDir)

	tests := []struct {
		name    string
		sortBy  string
		wantErr error
	}{
		{
			name:    "invalid sort field should return ErrInvalidSortField",
			sortBy:  "invalid_field",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "sql injection attempt should return ErrInvalidSortField",
			sortBy:  "name; DROP TABLE workflows; --",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "valid sort field name should not return error",
			sortBy:  "name",
			wantErr: nil,
		},
		{
			name:    "valid sort field created_at should not return error",
			sortBy:  "created_at",
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := persistence.ListWorkflowsOptions{
				SortBy:    tt.sortBy,
				SortOrder: "asc",
				Limit:     10,
			}

			_, err := repo.ListWorkflows(t.Context(), opts)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, persistence.IsInvalidSortField(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowRepository_Delete(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	workflow := &models.Workflow{ID: "delete-workflow", Name: "Delete Test Workflow"}

	err := repo.Save(t.Context(), workflow)
	require.NoError(t, err)

	filePath := filepath.Join(testDir, "workflows", "delete-workflow.json")
	assert.FileExists(t, filePath)

	err = repo.Delete(t.Context(), "delete-workflow")
	require.NoError(t, err)

	assert.NoFileExists(t, filePath)
}

func TestWorkflowRepository_Delete_NotFound(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	// Deleting a non-existent workflow should not error
	err := repo.Delete(t.Context(), "non-existent")
	assert.NoError(t, err)
}

func TestWorkflowRepository_PublishWorkflow(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	draft := &models.Workflow{ID: "wf-draft", Name: "canary-ci", Status: models.WorkflowStatusDraft}
	require.NoError(t, repo.Save(t.Context(), draft))

	err := repo.PublishWorkflow(t.Context(), "wf-draft")
	require.NoError(t, err)

	published, err := repo.GetByID(t.Context(), "wf-draft")
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
}

func TestWorkflowRepository_PublishWorkflow_UnpublishesSameName(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	old := &models.Workflow{ID: "wf-old", Name: "canary-ci", Status: models.WorkflowStatusPublished}
	next := &models.Workflow{ID: "wf-next", Name: "canary-ci", Status: models.WorkflowStatusDraft}
	other := &models.Workflow{ID: "wf-other", Name: "different", Status: models.WorkflowStatusPublished}

	for _, workflow := range []*models.Workflow{old, next, other} {
		require.NoError(t, repo.Save(t.Context(), workflow))
	}

	err := repo.PublishWorkflow(t.Context(), "wf-next")
	require.NoError(t, err)

	// The previously published version with the same name is unpublished
	oldReloaded, err := repo.GetByID(t.Context(), "wf-old")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusUnpublished, oldReloaded.Status)

	nextReloaded, err := repo.GetByID(t.Context(), "wf-next")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, nextReloaded.Status)

	// Workflows with other names are untouched
	otherReloaded, err := repo.GetByID(t.Context(), "wf-other")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, otherReloaded.Status)
}

func TestWorkflowRepository_PublishWorkflow_NotFound(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).WorkflowRepository()

	err := repo.PublishWorkflow(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).RunRepository()

	run := &models.Run{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Event:      models.EventPush,
		Branch:     "main",
		Commit:     "abc123",
		Status:     models.RunStatusRunning,
	}

	err := repo.Save(t.Context(), run)
	require.NoError(t, err)
	assert.False(t, run.CreatedAt.IsZero())

	fetched, err := repo.GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "wf-1", fetched.WorkflowID)
	assert.Equal(t, models.EventPush, fetched.Event)
	assert.Equal(t, "main", fetched.Branch)
}

func TestRunRepository_GetByID_NotFound(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).RunRepository()

	run, err := repo.GetByID(t.Context(), "missing")
	require.NoError(t, err)
	require.Nil(t, run)
}

func TestRunRepository_ListRuns(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).RunRepository()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	runs := []*models.Run{
		{ID: "run-1", WorkflowID: "wf-1", Status: models.RunStatusCompleted, CreatedAt: base},
		{ID: "run-2", WorkflowID: "wf-1", Status: models.RunStatusFailed, CreatedAt: base.Add(time.Minute)},
		{ID: "run-3", WorkflowID: "wf-2", Status: models.RunStatusRunning, CreatedAt: base.Add(2 * time.Minute)},
	}

	for _, run := range runs {
		require.NoError(t, repo.Save(t.Context(), run))
	}

	// Newest first across all workflows
	result, err := repo.ListRuns(t.Context(), persistence.ListRunsOptions{})
	require.NoError(t, err)
	require.Len(t, result.Runs, 3)
	assert.Equal(t, "run-3", result.Runs[0].ID)
	assert.Equal(t, "run-1", result.Runs[2].ID)

	// Filtered by workflow
	result, err = repo.ListRuns(t.Context(), persistence.ListRunsOptions{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, result.Runs, 2)
	assert.Equal(t, "run-2", result.Runs[0].ID)

	// Filtered by status
	failed := models.RunStatusFailed
	result, err = repo.ListRuns(t.Context(), persistence.ListRunsOptions{Status: &failed})
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "run-2", result.Runs[0].ID)
}

func TestInstanceRepository_SaveAndGet(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).InstanceRepository()

	instance := &models.JobInstance{
		ID:         "inst-1",
		RunID:      "run-1",
		WorkflowID: "wf-1",
		JobID:      "build",
		RunsOn:     "ubuntu-latest",
		Matrix:     map[string]any{"os": "ubuntu-latest"},
		Status:     models.InstanceStatusQueued,
	}

	err := repo.Save(t.Context(), instance)
	require.NoError(t, err)

	fetched, err := repo.GetByID(t.Context(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "run-1", fetched.RunID)
	assert.Equal(t, "ubuntu-latest", fetched.RunsOn)
	assert.Equal(t, "ubuntu-latest", fetched.Matrix["os"])
}

func TestInstanceRepository_GetByID_NotFound(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).InstanceRepository()

	instance, err := repo.GetByID(t.Context(), "missing")
	require.NoError(t, err)
	require.Nil(t, instance)
}

func TestInstanceRepository_ListByRun(t *testing.T) {
	testDir := t.TempDir()

	repo := NewPersistence(testDir).InstanceRepository()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	instances := []*models.JobInstance{
		{ID: "inst-b", RunID: "run-1", JobID: "build", RunsOn: "windows-latest", CreatedAt: created},
		{ID: "inst-a", RunID: "run-1", JobID: "build", RunsOn: "ubuntu-latest", CreatedAt: created},
		{ID: "inst-c", RunID: "run-2", JobID: "build", RunsOn: "ubuntu-latest", CreatedAt: created},
	}

	for _, instance := range instances {
		require.NoError(t, repo.Save(t.Context(), instance))
	}

	listed, err := repo.ListByRun(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)

	// Equal creation times fall back to ID ordering
	assert.Equal(t, "inst-a", listed[0].ID)
	assert.Equal(t, "inst-b", listed[1].ID)
}
