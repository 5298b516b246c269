package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowError_Is(t *testing.T) {
	err := NewWorkflowError("GetByID", "wf-canary", ErrWorkflowNotFound)

	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
	assert.False(t, errors.Is(err, ErrRunNotFound))
	assert.Contains(t, err.Error(), "GetByID")
	assert.Contains(t, err.Error(), "wf-canary")
}

func TestRunError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := NewRunError("Save", "run-1", inner)

	assert.Equal(t, inner, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "run-1")
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsWorkflowNotFound(NewWorkflowError("GetByID", "x", ErrWorkflowNotFound)))
	assert.True(t, IsRunNotFound(NewRunError("GetByID", "x", ErrRunNotFound)))
	assert.True(t, IsInstanceNotFound(&InstanceError{Op: "GetByID", InstanceID: "x", Err: ErrInstanceNotFound}))
	assert.False(t, IsWorkflowNotFound(errors.New("other")))
}
