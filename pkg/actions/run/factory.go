package run

import (
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates run actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "run"
}

// Name returns the name of the action factory.
func (*ActionFactory) Name() string {
	return "Run"
}

// Description returns a brief description of the action.
func (*ActionFactory) Description() string {
	return "Runs a shell command in the job workspace and captures its output and exit code."
}

// Create creates a new run action with the provided configuration.
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
			"command": map[string]any{
				"type":        "string",
				"description": "The command line to execute.",
				"examples": []string{
					"cargo build --release",
					"make test",
				},
			},
			"shell": map[string]any{
				"type":        "string",
				"description": "Shell to run the command with. Defaults to bash, or cmd on Windows.",
				"enum":        []string{"bash", "sh", "pwsh", "powershell", "cmd", "python"},
			},
			"working_directory": map[string]any{
				"type":        "string",
				"description": "Directory to run in, relative to the job workspace.",
			},
			"env": map[string]any{
				"type":        "object",
				"description": "Extra environment variables for this command.",
			},
		},
		"required": []string{"command"},
	}
}
