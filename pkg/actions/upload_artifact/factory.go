package upload_artifact

import (
	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates upload_artifact actions bound to an artifact store.
type ActionFactory struct {
	store *artifacts.Store
}

func NewActionFactory(store *artifacts.Store) *ActionFactory {
	return &ActionFactory{store: store}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "upload_artifact"
}

// Name returns the name of the action factory.
func (*ActionFactory) Name() string {
	return "Upload artifact"
}

// Description returns a brief description of the action.
func (*ActionFactory) Description() string {
	return "Uploads files from the job workspace as a named artifact of the run."
}

// Create creates a new upload_artifact action with the provided configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(f.store, config)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Artifact name, unique within the run.",
				"examples":    []string{"linux-binary", "windows-binary"},
			},
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to upload, relative to the job workspace. Either path separator is accepted.",
			},
			"if-no-files-found": map[string]any{
				"type":        "string",
				"description": "What to do when the path matches nothing.",
				"default":     "warn",
				"enum":        []string{"warn", "error", "ignore"},
			},
			"overwrite": map[string]any{
				"type":        "boolean",
				"description": "Replace an artifact that already exists with the same name.",
				"default":     false,
			},
		},
		"required": []string{"name", "path"},
	}
}
