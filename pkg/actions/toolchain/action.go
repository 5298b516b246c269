// Package toolchain verifies that a build toolchain is present on the
// runner and reports its version to later steps.
package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

type Action struct {
	toolchain string
	version   string
}

func NewAction(config map[string]any) (*Action, error) {
	action := &Action{toolchain: "cargo"}

	if toolchain, ok := config["toolchain"].(string); ok && toolchain != "" {
		action.toolchain = toolchain
	}

	action.version, _ = config["version"].(string)

	return action, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "toolchain")

	path, err := exec.LookPath(a.toolchain)
	if err != nil {
		return nil, fmt.Errorf("toolchain %q not found in PATH", a.toolchain)
	}

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s version: %w", a.toolchain, err)
	}

	version := firstLine(string(out))

	if a.version != "" && !strings.Contains(version, a.version) {
		return nil, fmt.Errorf("toolchain version mismatch: want %q, found %q", a.version, version)
	}

	logger.Info("Toolchain available", "toolchain", a.toolchain, "path", path, "version", version)

	return map[string]any{
		"toolchain": a.toolchain,
		"path":      path,
		"version":   version,
	}, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}
