// Package models defines the core domain models for CI workflow execution.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not trigger-matchable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Current active, trigger-matchable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not trigger-matchable
)

// Workflow represents a compiled CI workflow: the trigger rules that schedule
// it and the jobs a triggered run expands into.
type Workflow struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"        validate:"required,min=1"`
	Description string            `json:"description"`
	Status      WorkflowStatus    `json:"status"      validate:"required"`
	Triggers    []*TriggerRule    `json:"triggers"`
	Jobs        []*Job            `json:"jobs"        validate:"required,min=1"`
	Env         map[string]string `json:"env,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Owner       string            `json:"owner"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
}

// FindJob returns the job with the given ID, or nil when the workflow has no
// such job.
func (w *Workflow) FindJob(jobID string) *Job {
	for _, job := range w.Jobs {
		if job.ID == jobID {
			return job
		}
	}

	return nil
}

// IsTriggerable reports whether the workflow may be scheduled by incoming
// events. Draft and unpublished versions are only runnable by manual dispatch.
func (w *Workflow) IsTriggerable() bool {
	return w.Status == WorkflowStatusPublished && w.DeletedAt == nil
}
