// Package protocol defines the contracts between the engine and pluggable
// step actions and source providers.
package protocol

import (
	"context"
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Action is one executable step implementation. Execute returns the step's
// outputs, which later steps can reference through the expression environment.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates Action instances from step configuration. Factories
// are registered by action type and may be loaded from plugins.
type ActionFactory interface {
	// Create instantiates a new Action with the given step configuration.
	Create(config map[string]any) (Action, error)

	// ID returns the unique identifier for this action type.
	ID() string

	// Name returns a human-readable name for this action type.
	Name() string

	// Description returns a detailed description of what this action does.
	Description() string

	// Schema returns a JSON Schema describing the configuration structure
	// accepted by this action.
	Schema() map[string]any
}
