package web

// CreateWorkflowRequest carries a new workflow document and its owner.
// The document is the YAML (or JSON) pipeline definition; it is parsed,
// schema-validated and stored as a draft.
type CreateWorkflowRequest struct {
	Owner    string `json:"owner"    validate:"required"`
	Document string `json:"document" validate:"required"`
}

// UpdateWorkflowRequest replaces the document of an existing draft workflow.
type UpdateWorkflowRequest struct {
	Document string `json:"document" validate:"required"`
}

// DispatchWorkflowRequest triggers a manual run of a workflow. All fields
// are optional; the event defaults to workflow_dispatch.
type DispatchWorkflowRequest struct {
	Event  string         `json:"event,omitempty"  validate:"omitempty,oneof=push pull_request schedule workflow_dispatch"`
	Branch string         `json:"branch,omitempty"`
	Commit string         `json:"commit,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}
