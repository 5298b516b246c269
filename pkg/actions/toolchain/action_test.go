package toolchain

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// installFakeToolchain puts a stub binary on PATH that reports a fixed
// version.
func installFakeToolchain(t *testing.T, name, version string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain stub requires a POSIX shell")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\necho \"" + name + " " + version + "\"\n"

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestNewAction_Defaults(t *testing.T) {
	action, err := NewAction(map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, "cargo", action.toolchain)
	assert.Empty(t, action.version)
}

func TestAction_Execute(t *testing.T) {
	installFakeToolchain(t, "fakecargo", "1.80.0")

	action, err := NewAction(map[string]any{"toolchain": "fakecargo"})
	require.NoError(t, err)

	outputs, err := action.Execute(t.Context(), models.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "fakecargo", outputs["toolchain"])
	assert.Equal(t, "fakecargo 1.80.0", outputs["version"])
	assert.NotEmpty(t, outputs["path"])
}

func TestAction_Execute_VersionMatch(t *testing.T) {
	installFakeToolchain(t, "fakecargo", "1.80.0")

	action, err := NewAction(map[string]any{"toolchain": "fakecargo", "version": "1.80"})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), models.ExecutionContext{}, testLogger())
	assert.NoError(t, err)
}

func TestAction_Execute_VersionMismatch(t *testing.T) {
	installFakeToolchain(t, "fakecargo", "1.80.0")

	action, err := NewAction(map[string]any{"toolchain": "fakecargo", "version": "2.0"})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), models.ExecutionContext{}, testLogger())
	assert.ErrorContains(t, err, "version mismatch")
}

func TestAction_Execute_NotInstalled(t *testing.T) {
	action, err := NewAction(map[string]any{"toolchain": "definitely-not-installed-anywhere"})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), models.ExecutionContext{}, testLogger())
	assert.ErrorContains(t, err, "not found in PATH")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "cargo 1.80.0", firstLine("cargo 1.80.0\nrelease: 1.80.0\n"))
	assert.Equal(t, "cargo 1.80.0", firstLine("cargo 1.80.0"))
	assert.Empty(t, firstLine(""))
}
