// Package upload_artifact stores files produced by a job instance as a
// named artifact of the run.
package upload_artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/models"
)

type Action struct {
	store          *artifacts.Store
	name           string
	path           string
	ifNoFilesFound string
	overwrite      bool
}

func NewAction(store *artifacts.Store, config map[string]any) (*Action, error) {
	action := &Action{
		store:          store,
		ifNoFilesFound: "warn",
	}

	action.name, _ = config["name"].(string)
	if action.name == "" {
		return nil, errors.New("upload_artifact requires a 'name'")
	}

	action.path, _ = config["path"].(string)
	if action.path == "" {
		return nil, errors.New("upload_artifact requires a 'path'")
	}

	if mode, ok := config["if-no-files-found"].(string); ok && mode != "" {
		switch mode {
		case "warn", "error", "ignore":
			action.ifNoFilesFound = mode
		default:
			return nil, fmt.Errorf("invalid 'if-no-files-found' value %q", mode)
		}
	}

	action.overwrite, _ = config["overwrite"].(bool)

	return action, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "upload_artifact", "artifact", a.name)

	if executionCtx.RunID == "" {
		return nil, errors.New("upload_artifact requires a run ID")
	}

	resolved, err := resolvePath(executionCtx.Workspace, a.path)
	if err != nil {
		return nil, err
	}

	files, err := collectFiles(resolved)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		message := fmt.Sprintf("no files found at %q", a.path)

		switch a.ifNoFilesFound {
		case "error":
			return nil, errors.New(message)
		case "warn":
			logger.Warn("No files matched the artifact path", "path", a.path)
		}

		return map[string]any{"artifact_name": a.name, "uploaded": false, "files": 0}, nil
	}

	if a.overwrite {
		if err := a.store.Delete(executionCtx.RunID, a.name); err != nil && !errors.Is(err, artifacts.ErrArtifactNotFound) {
			return nil, fmt.Errorf("failed to replace artifact %q: %w", a.name, err)
		}
	}

	info, err := a.store.Save(executionCtx.RunID, a.name, files)
	if err != nil {
		return nil, fmt.Errorf("failed to store artifact %q: %w", a.name, err)
	}

	logger.Info("Artifact uploaded", "files", len(info.Files), "size", info.Size)

	return map[string]any{
		"artifact_name": a.name,
		"uploaded":      true,
		"files":         len(info.Files),
		"size_bytes":    info.Size,
	}, nil
}

// resolvePath normalizes the configured path, which may use either path
// separator, and anchors it in the workspace.
func resolvePath(workspace, raw string) (string, error) {
	normalized := filepath.FromSlash(strings.ReplaceAll(raw, `\`, "/"))

	if filepath.IsAbs(normalized) {
		return normalized, nil
	}

	if workspace == "" {
		return "", errors.New("upload_artifact requires a job workspace for relative paths")
	}

	resolved := filepath.Clean(filepath.Join(workspace, normalized))

	if resolved != workspace && !strings.HasPrefix(resolved, workspace+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the workspace", raw)
	}

	return resolved, nil
}

// collectFiles gathers the artifact payload: a single file keyed by its base
// name, or every file under a directory keyed by its relative path. A
// missing path yields no files.
func collectFiles(resolved string) (map[string][]byte, error) {
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	files := make(map[string][]byte)

	if !info.IsDir() {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, err
		}

		files[filepath.Base(resolved)] = data

		return files, nil
	}

	err = fs.WalkDir(os.DirFS(resolved), ".", func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		data, err := os.ReadFile(filepath.Join(resolved, filepath.FromSlash(path)))
		if err != nil {
			return err
		}

		files[path] = data

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
