package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// InstanceRepository handles job instance file operations.
type InstanceRepository struct {
	root string
}

// NewInstanceRepository creates a new job instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

// GetByID retrieves a job instance by its ID from the file system.
func (ir *InstanceRepository) GetByID(_ context.Context, instanceID string) (*models.JobInstance, error) {
	filePath := filepath.Clean(path.Join(ir.root, "instances", instanceID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch job instance %s: %w", instanceID, err)
	}

	var instance models.JobInstance

	err = json.Unmarshal(body, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job instance %s: %w", instanceID, err)
	}

	return &instance, nil
}

// ListByRun returns all job instances belonging to a run, ordered by
// creation time and ID for a stable listing.
func (ir *InstanceRepository) ListByRun(ctx context.Context, runID string) ([]*models.JobInstance, error) {
	root := os.DirFS(ir.root + "/instances")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}

	instances := make([]*models.JobInstance, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		instanceID := file[:len(file)-5]

		instance, err := ir.GetByID(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load job instance %s: %w", instanceID, err)
		}

		if instance == nil || instance.RunID != runID {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID < instances[j].ID
		}

		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

// Save saves a job instance to the file system.
func (ir *InstanceRepository) Save(_ context.Context, instance *models.JobInstance) error {
	err := os.MkdirAll(ir.root+"/instances", 0750)
	if err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job instance %s: %w", instance.ID, err)
	}

	filePath := path.Join(ir.root+"/instances", instance.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}
