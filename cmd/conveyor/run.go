package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/cmd"
	"github.com/conveyor-ci/conveyor/pkg/log"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence/file"
	"github.com/conveyor-ci/conveyor/pkg/runner"
	"github.com/conveyor-ci/conveyor/pkg/schema"
	"github.com/conveyor-ci/conveyor/pkg/services"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run a pipeline locally without a dispatcher or runner daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the pipeline YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "event",
				Value: models.EventDispatch,
				Usage: "Event to simulate (push, pull_request, schedule or workflow_dispatch)",
			},
			&cli.StringFlag{
				Name:  "branch",
				Value: "main",
				Usage: "Branch the simulated event refers to",
			},
			&cli.StringFlag{
				Name:  "commit",
				Usage: "Commit SHA the simulated event refers to",
			},
			&cli.StringFlag{
				Name:  "os",
				Usage: "Only execute job instances whose runs-on matches this label",
			},
			&cli.StringFlag{
				Name:    "workspace-root",
				Value:   "./workspaces",
				Usage:   "Directory for per-instance workspaces",
				Sources: cli.EnvVars("WORKSPACE_ROOT"),
			},
			&cli.StringFlag{
				Name:    "artifacts-dir",
				Value:   "./data",
				Usage:   "Directory for stored artifacts",
				Sources: cli.EnvVars("ARTIFACTS_DIR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Logging level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runPipeline,
	}
}

func runPipeline(ctx context.Context, command *cli.Command) error {
	logger := log.Setup(command.String("log-level"))

	data, err := os.ReadFile(command.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read pipeline file: %w", err)
	}

	workflow, err := schema.Load(data)
	if err != nil {
		return fmt.Errorf("pipeline is invalid: %w", err)
	}

	workflow.ID = uuid.New().String()

	// Run state lives in a throwaway directory, only artifacts survive the
	// invocation.
	stateDir, err := os.MkdirTemp("", "conveyor-run-")
	if err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(stateDir)
	}()

	persistence := file.NewPersistence(stateDir)

	defer func() {
		_ = persistence.Close(ctx)
	}()

	store := artifacts.NewStore(artifacts.Config{BaseDir: command.String("artifacts-dir")})
	registry := cmd.NewRegistry(logger, "", store)

	// The local run consumes its own instances directly, so the scheduling
	// events published here have no subscribers.
	eventBus := cmd.NewEventBus("gochannel", logger)
	dispatcher := services.NewDispatchService(persistence, eventBus, logger)

	eventData := map[string]any{
		"branch": command.String("branch"),
	}

	if commit := command.String("commit"); commit != "" {
		eventData["commit"] = commit
	}

	run, err := dispatcher.DispatchWorkflow(ctx, workflow, command.String("event"), eventData)
	if err != nil {
		return fmt.Errorf("failed to dispatch run: %w", err)
	}

	instances, err := persistence.InstanceRepository().ListByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list job instances: %w", err)
	}

	fmt.Printf("Run: %s (%s", workflow.Name, run.Event)

	if run.Branch != "" {
		fmt.Printf(" on %s", run.Branch)
	}

	fmt.Printf(")\n")

	executor := runner.NewExecutor(logger, registry)
	osFilter := command.String("os")

	executed := 0
	failed := 0

	for _, instance := range instances {
		fmt.Printf("\nJob: %s%s\n", instance.JobID, matrixSuffix(instance.Matrix))

		if osFilter != "" && instance.RunsOn != osFilter {
			fmt.Printf("  skipped (runs-on: %s)\n", instance.RunsOn)

			continue
		}

		executed++

		workspace := filepath.Join(command.String("workspace-root"), instance.ID)
		execErr := executor.ExecuteInstance(ctx, workflow, run, instance, workspace)

		for _, result := range instance.StepResults {
			switch result.Status {
			case models.StepStatusCompleted:
				fmt.Printf("  ✅ %s\n", stepLabel(result))
			case models.StepStatusFailed:
				fmt.Printf("  ❌ %s: %s\n", stepLabel(result), result.Error)
			case models.StepStatusSkipped:
				fmt.Printf("  ⏭  %s (skipped)\n", stepLabel(result))
			}
		}

		if execErr != nil {
			failed++
		}

		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("Failed to clean up workspace", "workspace", workspace, "error", err)
		}
	}

	fmt.Printf("\nRun Summary:\n")
	fmt.Printf("  Job instances: %d\n", len(instances))
	fmt.Printf("  Executed: %d\n", executed)
	fmt.Printf("  Failed: %d\n", failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d job instances failed", failed, executed)
	}

	fmt.Println("All job instances completed! ✅")

	return nil
}

func matrixSuffix(matrix map[string]any) string {
	if len(matrix) == 0 {
		return ""
	}

	keys := make([]string, 0, len(matrix))
	for key := range matrix {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, matrix[key]))
	}

	return " [" + strings.Join(parts, ", ") + "]"
}

func stepLabel(result *models.StepResult) string {
	if result.Name != "" {
		return result.Name
	}

	return result.UID
}
