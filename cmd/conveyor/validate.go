package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/conveyor-ci/conveyor/pkg/schema"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate a pipeline file without running it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the pipeline YAML file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			data, err := os.ReadFile(command.String("file"))
			if err != nil {
				return fmt.Errorf("failed to read pipeline file: %w", err)
			}

			workflow, err := schema.Load(data)
			if err != nil {
				fmt.Printf("❌ INVALID: %v\n", err)

				return fmt.Errorf("pipeline %s is invalid", command.String("file"))
			}

			fmt.Printf("Workflow: %s\n", workflow.Name)

			for _, rule := range workflow.Triggers {
				switch {
				case len(rule.Branches) > 0:
					fmt.Printf("  Trigger: %s (branches: %s)\n", rule.Event, strings.Join(rule.Branches, ", "))
				case rule.Cron != "":
					fmt.Printf("  Trigger: %s (%s)\n", rule.Event, rule.Cron)
				default:
					fmt.Printf("  Trigger: %s\n", rule.Event)
				}
			}

			totalInstances := 0

			for _, job := range workflow.Jobs {
				combinations := job.MatrixCombinations()
				totalInstances += len(combinations)

				fmt.Printf("  Job: %s (runs-on: %s, %d steps", job.ID, job.RunsOn, len(job.Steps))

				if len(combinations) > 1 {
					fmt.Printf(", %d matrix combinations", len(combinations))
				}

				fmt.Printf(")\n")
			}

			fmt.Printf("\nA run expands into %d job instances.\n", totalInstances)
			fmt.Println("Pipeline is valid! ✅")

			return nil
		},
	}
}
