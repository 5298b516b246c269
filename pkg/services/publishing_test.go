package services

import (
	"testing"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPublishingFixture(t *testing.T) (*Publishing, *Workflow) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	return NewPublishing(store), NewWorkflow(store)
}

func TestPublishing_PublishWorkflow(t *testing.T) {
	publishing, workflows := newPublishingFixture(t)

	created, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	published, err := publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, published)

	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	assert.True(t, published.IsTriggerable())
}

func TestPublishing_PublishWorkflow_ReplacesPreviousVersion(t *testing.T) {
	publishing, workflows := newPublishingFixture(t)

	first, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), first.ID)
	require.NoError(t, err)

	// A second version published under the same name retires the first.
	second, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	published, err := publishing.PublishWorkflow(t.Context(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, published.Status)

	retired, err := workflows.FetchByID(t.Context(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusUnpublished, retired.Status)
	assert.False(t, retired.IsTriggerable())
}

func TestPublishing_PublishWorkflow_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *models.Workflow)
		wantErr error
	}{
		{
			name:    "missing name",
			mutate:  func(w *models.Workflow) { w.Name = "" },
			wantErr: ErrWorkflowNameRequired,
		},
		{
			name:    "no jobs",
			mutate:  func(w *models.Workflow) { w.Jobs = nil },
			wantErr: ErrJobsRequired,
		},
		{
			name:    "job without steps",
			mutate:  func(w *models.Workflow) { w.Jobs[0].Steps = nil },
			wantErr: ErrStepsRequired,
		},
		{
			name:    "no triggers",
			mutate:  func(w *models.Workflow) { w.Triggers = nil },
			wantErr: ErrTriggersRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publishing, workflows := newPublishingFixture(t)

			workflow := matrixWorkflow("")
			tt.mutate(workflow)

			created, err := workflows.Create(t.Context(), workflow)
			require.NoError(t, err)

			published, err := publishing.PublishWorkflow(t.Context(), created.ID)
			assert.Nil(t, published)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestPublishing_PublishWorkflow_AlreadyPublished(t *testing.T) {
	publishing, workflows := newPublishingFixture(t)

	created, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	published, err := publishing.PublishWorkflow(t.Context(), created.ID)
	assert.Nil(t, published)
	assert.ErrorIs(t, err, ErrAlreadyPublished)
	assert.True(t, IsConflictError(err))
}

func TestPublishing_PublishWorkflow_NotFound(t *testing.T) {
	publishing, _ := newPublishingFixture(t)

	published, err := publishing.PublishWorkflow(t.Context(), "missing")
	assert.Nil(t, published)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestPublishing_UnpublishWorkflow(t *testing.T) {
	publishing, workflows := newPublishingFixture(t)

	created, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	unpublished, err := publishing.UnpublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusUnpublished, unpublished.Status)
	assert.False(t, unpublished.IsTriggerable())
}

func TestPublishing_UnpublishWorkflow_NotPublished(t *testing.T) {
	publishing, workflows := newPublishingFixture(t)

	created, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	unpublished, err := publishing.UnpublishWorkflow(t.Context(), created.ID)
	assert.Nil(t, unpublished)
	assert.ErrorIs(t, err, ErrNotPublished)
	assert.True(t, IsConflictError(err))
}

func TestPublishing_IsPublished(t *testing.T) {
	publishing, workflows := newPublishingFixture(t)

	created, err := workflows.Create(t.Context(), matrixWorkflow(""))
	require.NoError(t, err)

	isPublished, err := publishing.IsPublished(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, isPublished)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	isPublished, err = publishing.IsPublished(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, isPublished)
}
