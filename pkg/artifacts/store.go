// Package artifacts stores the files uploaded by workflow runs. Every
// artifact is scoped to a run and addressed by name; an artifact holds one or
// more files, compressed transparently above a size threshold.
package artifacts

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactExists   = errors.New("artifact already exists")
)

// Config holds storage settings for the artifact store.
type Config struct {
	BaseDir       string // Base directory for storage (default: "./data")
	CompressAbove int64  // Compress files larger than this (default: 10KB)
	RetentionDays int    // Days to keep run artifacts (default: 30)
}

// Store persists run artifacts on the local filesystem under
// <base>/runs/<runID>/artifacts/<name>/.
type Store struct {
	baseDir       string
	compressAbove int64
	retention     time.Duration
}

// Info describes one stored artifact.
type Info struct {
	Name      string    `json:"name"`
	RunID     string    `json:"run_id"`
	Size      int64     `json:"size"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// File extensions that are already compressed and gain nothing from gzip.
var compressedExtensions = map[string]bool{
	".gz":   true,
	".tgz":  true,
	".zip":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".pdf":  true,
}

// NewStore creates an artifact store with the given config.
func NewStore(cfg Config) *Store {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "./data"
	}

	if cfg.CompressAbove == 0 {
		cfg.CompressAbove = 10 * 1024
	}

	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}

	return &Store{
		baseDir:       cfg.BaseDir,
		compressAbove: cfg.CompressAbove,
		retention:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}
}

// BaseDir returns the base directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory holding everything stored for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.baseDir, "runs", runID)
}

// ArtifactDir returns the directory holding one named artifact.
func (s *Store) ArtifactDir(runID, name string) string {
	return filepath.Join(s.RunDir(runID), "artifacts", name)
}

// Save stores a named artifact for a run. File keys are slash separated
// paths relative to the artifact root. Saving over an existing artifact
// fails with ErrArtifactExists; delete it first to replace it.
func (s *Store) Save(runID, name string, files map[string][]byte) (*Info, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("artifact %q has no files", name)
	}

	// Validate every file path before touching the filesystem so a bad
	// entry does not leave a partially written artifact behind.
	cleaned := make(map[string][]byte, len(files))

	for filename, data := range files {
		cleanedPath, err := cleanRelativePath(filename)
		if err != nil {
			return nil, err
		}

		cleaned[cleanedPath] = data
	}

	dir := s.ArtifactDir(runID, name)

	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrArtifactExists, name)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	for filename, data := range cleaned {
		if err := s.saveFile(dir, filename, data); err != nil {
			return nil, err
		}
	}

	return s.GetInfo(runID, name)
}

func (s *Store) saveFile(dir, cleanedPath string, data []byte) error {
	target := filepath.Join(dir, filepath.FromSlash(cleanedPath))

	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if s.shouldCompress(cleanedPath, int64(len(data))) {
		return saveCompressed(target+".gz", data)
	}

	return os.WriteFile(target, data, 0600)
}

// Load reads one file from a named artifact, decompressing transparently.
func (s *Store) Load(runID, name, filename string) ([]byte, error) {
	cleaned, err := cleanRelativePath(filename)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(s.ArtifactDir(runID, name), filepath.FromSlash(cleaned))

	if data, err := loadCompressed(target + ".gz"); err == nil {
		return data, nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, name, cleaned)
		}

		return nil, err
	}

	return data, nil
}

// Has reports whether the run has an artifact with the given name.
func (s *Store) Has(runID, name string) bool {
	info, err := os.Stat(s.ArtifactDir(runID, name))

	return err == nil && info.IsDir()
}

// GetInfo returns metadata for one named artifact.
func (s *Store) GetInfo(runID, name string) (*Info, error) {
	dir := s.ArtifactDir(runID, name)

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}

		return nil, err
	}

	info := &Info{
		Name:      name,
		RunID:     runID,
		CreatedAt: stat.ModTime(),
	}

	err = filepath.Walk(dir, func(filePath string, fileInfo os.FileInfo, err error) error {
		if err != nil || fileInfo.IsDir() {
			return err
		}

		relPath, err := filepath.Rel(dir, filePath)
		if err != nil {
			return err
		}

		info.Size += fileInfo.Size()
		info.Files = append(info.Files, strings.TrimSuffix(filepath.ToSlash(relPath), ".gz"))

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(info.Files)

	return info, nil
}

// List returns all artifacts stored for a run, sorted by name.
func (s *Store) List(runID string) ([]Info, error) {
	artifactsDir := filepath.Join(s.RunDir(runID), "artifacts")

	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var infos []Info

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := s.GetInfo(runID, entry.Name())
		if err != nil {
			return nil, err
		}

		infos = append(infos, *info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos, nil
}

// Delete removes a named artifact from a run.
func (s *Store) Delete(runID, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	dir := s.ArtifactDir(runID, name)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}

	return os.RemoveAll(dir)
}

// CleanupExpired removes run directories older than the retention period and
// returns how many were removed.
func (s *Store) CleanupExpired() (int, error) {
	runsDir := filepath.Join(s.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	cutoff := time.Now().Add(-s.retention)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(runsDir, entry.Name())); err != nil {
				return removed, err
			}

			removed++
		}
	}

	return removed, nil
}

func (s *Store) shouldCompress(filename string, size int64) bool {
	if compressedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return false
	}

	return size >= s.compressAbove
}

// validateName rejects artifact names that would escape the artifact
// directory or collide with path separators.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("artifact name is required")
	}

	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}

	return nil
}

// cleanRelativePath normalizes a slash separated file path and rejects
// anything that escapes the artifact root.
func cleanRelativePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("artifact file path is required")
	}

	cleaned := path.Clean(strings.ReplaceAll(filename, `\`, "/"))

	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid artifact file path %q", filename)
	}

	return cleaned, nil
}

func saveCompressed(target string, data []byte) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)

	if _, err := gz.Write(data); err != nil {
		gz.Close()

		return err
	}

	return gz.Close()
}

func loadCompressed(target string) ([]byte, error) {
	f, err := os.Open(target)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
