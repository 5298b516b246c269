package artifacts_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
)

func newTestStore(t *testing.T) *artifacts.Store {
	t.Helper()

	return artifacts.NewStore(artifacts.Config{BaseDir: t.TempDir()})
}

func TestNewStore_Defaults(t *testing.T) {
	store := artifacts.NewStore(artifacts.Config{})

	assert.Equal(t, "./data", store.BaseDir())
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Save("run-1", "linux-binary", map[string][]byte{
		"canary-context": []byte("ELF binary payload"),
	})
	require.NoError(t, err)

	assert.Equal(t, "linux-binary", info.Name)
	assert.Equal(t, "run-1", info.RunID)
	assert.Equal(t, []string{"canary-context"}, info.Files)
	assert.Greater(t, info.Size, int64(0))

	assert.True(t, store.Has("run-1", "linux-binary"))
	assert.False(t, store.Has("run-1", "windows-binary"))

	data, err := store.Load("run-1", "linux-binary", "canary-context")
	require.NoError(t, err)
	assert.Equal(t, []byte("ELF binary payload"), data)
}

func TestStore_Load_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("run-1", "linux-binary", "canary-context")
	assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)
}

func TestStore_Compression(t *testing.T) {
	store := artifacts.NewStore(artifacts.Config{BaseDir: t.TempDir(), CompressAbove: 64})

	content := []byte(strings.Repeat("build output line\n", 50))

	_, err := store.Save("run-1", "build-log", map[string][]byte{"output.log": content})
	require.NoError(t, err)

	compressedPath := filepath.Join(store.ArtifactDir("run-1", "build-log"), "output.log.gz")
	_, statErr := os.Stat(compressedPath)
	assert.NoError(t, statErr, "file above the threshold should be stored compressed")

	data, err := store.Load("run-1", "build-log", "output.log")
	require.NoError(t, err)
	assert.Equal(t, content, data)

	info, err := store.GetInfo("run-1", "build-log")
	require.NoError(t, err)
	assert.Equal(t, []string{"output.log"}, info.Files)
}

func TestStore_Save_Existing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("run-1", "linux-binary", map[string][]byte{"canary-context": []byte("v1")})
	require.NoError(t, err)

	_, err = store.Save("run-1", "linux-binary", map[string][]byte{"canary-context": []byte("v2")})
	assert.ErrorIs(t, err, artifacts.ErrArtifactExists)
}

func TestStore_Save_NoFiles(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("run-1", "empty", map[string][]byte{})
	assert.ErrorContains(t, err, "has no files")
}

func TestStore_NestedFiles(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Save("run-1", "release", map[string][]byte{
		"bin/tool":       []byte("binary"),
		"docs/readme.md": []byte("docs"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"bin/tool", "docs/readme.md"}, info.Files)

	data, err := store.Load("run-1", "release", "bin/tool")
	require.NoError(t, err)
	assert.Equal(t, []byte("binary"), data)
}

func TestStore_BackslashFilePaths(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Save("run-1", "windows-binary", map[string][]byte{
		`target\release\canary-context.exe`: []byte("PE binary payload"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"target/release/canary-context.exe"}, info.Files)

	data, err := store.Load("run-1", "windows-binary", "target/release/canary-context.exe")
	require.NoError(t, err)
	assert.Equal(t, []byte("PE binary payload"), data)

	data, err = store.Load("run-1", "windows-binary", `target\release\canary-context.exe`)
	require.NoError(t, err)
	assert.Equal(t, []byte("PE binary payload"), data)
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("run-1", "windows-binary", map[string][]byte{"canary-context.exe": []byte("pe")})
	require.NoError(t, err)
	_, err = store.Save("run-1", "linux-binary", map[string][]byte{"canary-context": []byte("elf")})
	require.NoError(t, err)
	_, err = store.Save("run-2", "linux-binary", map[string][]byte{"canary-context": []byte("elf")})
	require.NoError(t, err)

	infos, err := store.List("run-1")
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, "linux-binary", infos[0].Name)
	assert.Equal(t, "windows-binary", infos[1].Name)

	infos, err = store.List("run-without-artifacts")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("run-1", "linux-binary", map[string][]byte{"canary-context": []byte("elf")})
	require.NoError(t, err)

	require.NoError(t, store.Delete("run-1", "linux-binary"))
	assert.False(t, store.Has("run-1", "linux-binary"))

	err = store.Delete("run-1", "linux-binary")
	assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)
}

func TestStore_InvalidNames(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "a/b", `a\b`, "..", "."} {
		t.Run(name, func(t *testing.T) {
			_, err := store.Save("run-1", name, map[string][]byte{"f": []byte("x")})
			assert.Error(t, err)
		})
	}
}

func TestStore_EscapingFilePaths(t *testing.T) {
	store := newTestStore(t)

	for _, filename := range []string{"../evil", "/etc/passwd", ""} {
		t.Run(filename, func(t *testing.T) {
			_, err := store.Save("run-1", "artifact", map[string][]byte{filename: []byte("x")})
			assert.ErrorContains(t, err, "artifact file path")
		})
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	store := artifacts.NewStore(artifacts.Config{BaseDir: t.TempDir(), RetentionDays: 1})

	_, err := store.Save("run-old", "linux-binary", map[string][]byte{"canary-context": []byte("elf")})
	require.NoError(t, err)
	_, err = store.Save("run-fresh", "linux-binary", map[string][]byte{"canary-context": []byte("elf")})
	require.NoError(t, err)

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.RunDir("run-old"), stale, stale))

	removed, err := store.CleanupExpired()
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.False(t, store.Has("run-old", "linux-binary"))
	assert.True(t, store.Has("run-fresh", "linux-binary"))
}
