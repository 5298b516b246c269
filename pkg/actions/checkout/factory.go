package checkout

import (
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates checkout actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "checkout"
}

// Name returns the name of the action factory.
func (*ActionFactory) Name() string {
	return "Checkout"
}

// Description returns a brief description of the action.
func (*ActionFactory) Description() string {
	return "Checks out the repository under build into the job workspace."
}

// Create creates a new checkout action with the provided configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repository": map[string]any{
				"type":        "string",
				"description": "Git URL or local directory to check out. Defaults to the repository carried by the triggering event.",
			},
			"ref": map[string]any{
				"type":        "string",
				"description": "Branch, tag or commit to check out. Defaults to the commit carried by the triggering event.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory under the workspace to place the repository in.",
			},
		},
	}
}
