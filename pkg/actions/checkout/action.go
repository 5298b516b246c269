// Package checkout materializes the repository under build into the job
// workspace, either by cloning a git source or by copying a local tree.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

type Action struct {
	repository string
	ref        string
	path       string
}

func NewAction(config map[string]any) (*Action, error) {
	action := &Action{}

	action.repository, _ = config["repository"].(string)
	action.ref, _ = config["ref"].(string)
	action.path, _ = config["path"].(string)

	return action, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "checkout")

	repository := a.repository
	if repository == "" {
		repository, _ = executionCtx.EventData["repository"].(string)
	}

	if repository == "" {
		return nil, errors.New("checkout requires a repository, either configured or carried by the event")
	}

	ref := a.ref
	if ref == "" {
		ref = refFromEvent(executionCtx.EventData)
	}

	target, err := resolveTarget(executionCtx.Workspace, a.path)
	if err != nil {
		return nil, err
	}

	// The target is cleared first so reruns start from a pristine tree.
	if err := os.RemoveAll(target); err != nil {
		return nil, fmt.Errorf("failed to clean checkout target: %w", err)
	}

	logger.Info("Checking out repository", "repository", repository, "ref", ref, "target", target)

	if isLocalTree(repository) {
		if err := copyTree(repository, target); err != nil {
			return nil, fmt.Errorf("failed to copy repository: %w", err)
		}
	} else {
		if err := clone(ctx, repository, ref, target); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"path":       target,
		"repository": repository,
		"ref":        ref,
	}, nil
}

// refFromEvent prefers the exact commit carried by the event over its
// branch name.
func refFromEvent(eventData map[string]any) string {
	if commit, _ := eventData["commit"].(string); commit != "" {
		return commit
	}

	branch, _ := eventData["branch"].(string)

	return branch
}

// resolveTarget joins the configured path onto the workspace and rejects
// anything that escapes it.
func resolveTarget(workspace, path string) (string, error) {
	if workspace == "" {
		return "", errors.New("checkout requires a job workspace")
	}

	if path == "" || path == "." {
		return workspace, nil
	}

	target := filepath.Clean(filepath.Join(workspace, path))

	if target != workspace && !strings.HasPrefix(target, workspace+string(filepath.Separator)) {
		return "", fmt.Errorf("checkout path %q escapes the workspace", path)
	}

	return target, nil
}

// isLocalTree reports whether the repository is a plain directory rather
// than a git source.
func isLocalTree(repository string) bool {
	info, err := os.Stat(repository)
	if err != nil || !info.IsDir() {
		return false
	}

	_, err = os.Stat(filepath.Join(repository, ".git"))

	return err != nil
}

func clone(ctx context.Context, repository, ref, target string) error {
	git, err := exec.LookPath("git")
	if err != nil {
		return errors.New("git executable not found")
	}

	args := []string{"clone", "--quiet"}
	if ref == "" {
		args = append(args, "--depth", "1")
	}

	args = append(args, repository, target)

	if out, err := exec.CommandContext(ctx, git, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("git clone failed: %s", strings.TrimSpace(string(out)))
	}

	if ref == "" {
		return nil
	}

	if out, err := exec.CommandContext(ctx, git, "-C", target, "checkout", "--quiet", ref).CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %q failed: %s", ref, strings.TrimSpace(string(out)))
	}

	return nil
}

// copyTree copies a directory tree, skipping .git metadata and preserving
// file modes.
func copyTree(src, dst string) error {
	return fs.WalkDir(os.DirFS(src), ".", func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() && entry.Name() == ".git" {
			return fs.SkipDir
		}

		target := filepath.Join(dst, filepath.FromSlash(path))

		if entry.IsDir() {
			return os.MkdirAll(target, 0750)
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		return copyFile(filepath.Join(src, filepath.FromSlash(path)), target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}
