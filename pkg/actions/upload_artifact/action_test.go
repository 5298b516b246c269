package upload_artifact

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *artifacts.Store {
	t.Helper()

	return artifacts.NewStore(artifacts.Config{BaseDir: t.TempDir()})
}

func writeWorkspaceFile(t *testing.T, workspace, relPath, content string) {
	t.Helper()

	target := filepath.Join(workspace, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0750))
	require.NoError(t, os.WriteFile(target, []byte(content), 0600))
}

func TestNewAction(t *testing.T) {
	store := newTestStore(t)

	t.Run("requires a name", func(t *testing.T) {
		_, err := NewAction(store, map[string]any{"path": "out"})
		assert.ErrorContains(t, err, "requires a 'name'")
	})

	t.Run("requires a path", func(t *testing.T) {
		_, err := NewAction(store, map[string]any{"name": "linux-binary"})
		assert.ErrorContains(t, err, "requires a 'path'")
	})

	t.Run("rejects unknown if-no-files-found modes", func(t *testing.T) {
		_, err := NewAction(store, map[string]any{
			"name":              "linux-binary",
			"path":              "out",
			"if-no-files-found": "explode",
		})
		assert.ErrorContains(t, err, "invalid 'if-no-files-found'")
	})
}

func TestAction_Execute_SingleFile(t *testing.T) {
	store := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "canary-context/target/release/canary-context", "ELF payload")

	action, err := NewAction(store, map[string]any{
		"name": "linux-binary",
		"path": "canary-context/target/release/canary-context",
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{RunID: "run-1", Workspace: workspace}

	outputs, err := action.Execute(t.Context(), executionCtx, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "linux-binary", outputs["artifact_name"])
	assert.Equal(t, true, outputs["uploaded"])
	assert.Equal(t, 1, outputs["files"])

	data, err := store.Load("run-1", "linux-binary", "canary-context")
	require.NoError(t, err)
	assert.Equal(t, []byte("ELF payload"), data)
}

func TestAction_Execute_WindowsStylePath(t *testing.T) {
	store := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "canary-context/target/release/canary-context.exe", "PE payload")

	action, err := NewAction(store, map[string]any{
		"name": "windows-binary",
		"path": `canary-context\target\release\canary-context.exe`,
	})
	require.NoError(t, err)

	executionCtx := models.ExecutionContext{RunID: "run-1", Workspace: workspace}

	outputs, err := action.Execute(t.Context(), executionCtx, testLogger())
	require.NoError(t, err)
	assert.Equal(t, true, outputs["uploaded"])

	data, err := store.Load("run-1", "windows-binary", "canary-context.exe")
	require.NoError(t, err)
	assert.Equal(t, []byte("PE payload"), data)
}

func TestAction_Execute_Directory(t *testing.T) {
	store := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "dist/bin/tool", "binary")
	writeWorkspaceFile(t, workspace, "dist/docs/readme.md", "docs")

	action, err := NewAction(store, map[string]any{"name": "release", "path": "dist"})
	require.NoError(t, err)

	outputs, err := action.Execute(t.Context(), models.ExecutionContext{RunID: "run-1", Workspace: workspace}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, outputs["files"])

	info, err := store.GetInfo("run-1", "release")
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/tool", "docs/readme.md"}, info.Files)
}

func TestAction_Execute_NoFilesFound(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		wantErr bool
	}{
		{name: "warn is the default", mode: "", wantErr: false},
		{name: "error fails the step", mode: "error", wantErr: true},
		{name: "ignore stays silent", mode: "ignore", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)

			config := map[string]any{"name": "linux-binary", "path": "missing/binary"}
			if tt.mode != "" {
				config["if-no-files-found"] = tt.mode
			}

			action, err := NewAction(store, config)
			require.NoError(t, err)

			outputs, err := action.Execute(t.Context(), models.ExecutionContext{RunID: "run-1", Workspace: t.TempDir()}, testLogger())

			if tt.wantErr {
				assert.ErrorContains(t, err, "no files found")

				return
			}

			require.NoError(t, err)
			assert.Equal(t, false, outputs["uploaded"])
			assert.False(t, store.Has("run-1", "linux-binary"))
		})
	}
}

func TestAction_Execute_DuplicateName(t *testing.T) {
	store := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "out/binary", "v1")

	config := map[string]any{"name": "linux-binary", "path": "out/binary"}
	executionCtx := models.ExecutionContext{RunID: "run-1", Workspace: workspace}

	action, err := NewAction(store, config)
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), executionCtx, testLogger())
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), executionCtx, testLogger())
	assert.ErrorIs(t, err, artifacts.ErrArtifactExists)
}

func TestAction_Execute_Overwrite(t *testing.T) {
	store := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "out/binary", "v1")

	executionCtx := models.ExecutionContext{RunID: "run-1", Workspace: workspace}

	first, err := NewAction(store, map[string]any{"name": "linux-binary", "path": "out/binary"})
	require.NoError(t, err)
	_, err = first.Execute(t.Context(), executionCtx, testLogger())
	require.NoError(t, err)

	writeWorkspaceFile(t, workspace, "out/binary", "v2")

	second, err := NewAction(store, map[string]any{
		"name":      "linux-binary",
		"path":      "out/binary",
		"overwrite": true,
	})
	require.NoError(t, err)
	_, err = second.Execute(t.Context(), executionCtx, testLogger())
	require.NoError(t, err)

	data, err := store.Load("run-1", "linux-binary", "binary")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestResolvePath_Escape(t *testing.T) {
	_, err := resolvePath(t.TempDir(), "../outside")
	assert.ErrorContains(t, err, "escapes the workspace")
}
