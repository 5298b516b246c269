package toolchain

import (
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates toolchain actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "toolchain"
}

// Name returns the name of the action factory.
func (*ActionFactory) Name() string {
	return "Toolchain"
}

// Description returns a brief description of the action.
func (*ActionFactory) Description() string {
	return "Verifies that a build toolchain is installed on the runner and exposes its version."
}

// Create creates a new toolchain action with the provided configuration.
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
			"toolchain": map[string]any{
				"type":        "string",
				"description": "Toolchain binary to look up.",
				"default":     "cargo",
			},
			"version": map[string]any{
				"type":        "string",
				"description": "Substring the reported version must contain.",
			},
		},
	}
}
