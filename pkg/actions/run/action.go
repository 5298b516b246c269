// Package run executes a step's shell command inside the job workspace.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Lines of stdout and stderr kept in the step result.
const maxOutputLines = 100

type Action struct {
	command          string
	shell            string
	workingDirectory string
	env              map[string]string
}

func NewAction(config map[string]any) (*Action, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, errors.New("run action requires a 'command'")
	}

	action := &Action{
		command: command,
		env:     map[string]string{},
	}

	action.shell, _ = config["shell"].(string)
	action.workingDirectory, _ = config["working_directory"].(string)

	if rawEnv, ok := config["env"].(map[string]any); ok {
		for key, value := range rawEnv {
			action.env[key] = fmt.Sprint(value)
		}
	}

	return action, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "run")

	workingDir, err := resolveWorkingDirectory(executionCtx.Workspace, a.workingDirectory)
	if err != nil {
		return nil, err
	}

	args := commandArgs(a.shell, a.command)

	logger.Info("Executing command", "command", a.command, "shell", args[0], "working_directory", workingDir)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workingDir
	cmd.Env = mergeEnv(os.Environ(), executionCtx.Env, a.env)

	var stdout, stderr strings.Builder

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	code := exitCode(runErr)

	outputs := map[string]any{
		"exit_code": code,
		"stdout":    tailLines(stdout.String(), maxOutputLines),
		"stderr":    tailLines(stderr.String(), maxOutputLines),
	}

	if runErr != nil {
		logger.Error("Command failed", "exit_code", code, "error", runErr)

		return outputs, fmt.Errorf("command exited with code %d: %w", code, runErr)
	}

	return outputs, nil
}

// commandArgs maps a shell name to the argument vector that runs the script.
// An empty shell picks the platform default.
func commandArgs(shell, script string) []string {
	if shell == "" {
		if runtime.GOOS == "windows" {
			return []string{"cmd", "/C", script}
		}

		return []string{"bash", "-c", script}
	}

	switch strings.ToLower(filepath.Base(shell)) {
	case "cmd", "cmd.exe":
		return []string{shell, "/C", script}
	case "pwsh", "powershell", "powershell.exe":
		return []string{shell, "-Command", script}
	case "python", "python3", "python.exe":
		return []string{shell, "-c", script}
	default:
		return []string{shell, "-c", script}
	}
}

// resolveWorkingDirectory anchors a relative working directory in the
// workspace and requires it to exist.
func resolveWorkingDirectory(workspace, dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		if workspace == "" {
			return os.Getwd()
		}

		return workspace, nil
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspace, dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("working directory %q not found", dir)
		}

		return "", fmt.Errorf("failed to stat working directory %q: %w", dir, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("working directory %q is not a directory", dir)
	}

	return dir, nil
}

// mergeEnv layers overlays onto a base KEY=VALUE environment, later overlays
// winning, and returns the result sorted by key.
func mergeEnv(base []string, overlays ...map[string]string) []string {
	merged := make(map[string]string, len(base))

	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx != -1 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}

	for _, overlay := range overlays {
		for key, value := range overlay {
			merged[key] = value
		}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+merged[key])
	}

	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return 1
}

func tailLines(input string, maxLines int) string {
	if input == "" {
		return ""
	}

	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}

	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
