// Package schema parses, validates and compiles workflow documents: the
// YAML files that declare triggers, a build matrix and the step sequence.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document mirrors the workflow YAML structure before compilation.
type Document struct {
	Name     string                 `yaml:"name"`
	On       TriggersDocument       `yaml:"on"`
	Env      map[string]any         `yaml:"env"`
	Defaults DefaultsDocument       `yaml:"defaults"`
	Jobs     map[string]JobDocument `yaml:"jobs"`
}

// TriggersDocument holds the parsed `on:` block. The block accepts three
// YAML shapes: a single event name, a list of event names, or a mapping from
// event name to filters.
type TriggersDocument struct {
	Push             *BranchFilterDocument
	PullRequest      *BranchFilterDocument
	Schedule         []ScheduleDocument
	WorkflowDispatch bool
}

// BranchFilterDocument restricts an event trigger to a set of branches.
// An empty filter matches every branch.
type BranchFilterDocument struct {
	Branches []string `yaml:"branches"`
}

// ScheduleDocument is one cron entry under `on.schedule`.
type ScheduleDocument struct {
	Cron string `yaml:"cron"`
}

// UnmarshalYAML accepts the scalar, sequence and mapping forms of `on:`.
func (t *TriggersDocument) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var event string
		if err := node.Decode(&event); err != nil {
			return err
		}

		return t.enable(event, nil)
	case yaml.SequenceNode:
		var events []string
		if err := node.Decode(&events); err != nil {
			return err
		}

		for _, event := range events {
			if err := t.enable(event, nil); err != nil {
				return err
			}
		}

		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			value := node.Content[i+1]

			if err := t.enable(key.Value, value); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("invalid 'on' block: expected event name, list or mapping")
	}
}

// enable records one trigger event, decoding its filter node when present.
func (t *TriggersDocument) enable(event string, value *yaml.Node) error {
	switch event {
	case "push":
		t.Push = &BranchFilterDocument{}

		return decodeFilter(value, t.Push)
	case "pull_request":
		t.PullRequest = &BranchFilterDocument{}

		return decodeFilter(value, t.PullRequest)
	case "schedule":
		if value == nil || value.Kind != yaml.SequenceNode {
			return fmt.Errorf("invalid 'on.schedule': expected a list of cron entries")
		}

		return value.Decode(&t.Schedule)
	case "workflow_dispatch":
		t.WorkflowDispatch = true

		return nil
	default:
		return fmt.Errorf("unsupported trigger event %q", event)
	}
}

func decodeFilter(value *yaml.Node, filter *BranchFilterDocument) error {
	if value == nil || value.Kind != yaml.MappingNode {
		return nil
	}

	return value.Decode(filter)
}

// DefaultsDocument carries workflow or job level run defaults.
type DefaultsDocument struct {
	Run RunDefaultsDocument `yaml:"run"`
}

// RunDefaultsDocument sets the default shell and working directory for
// run steps.
type RunDefaultsDocument struct {
	Shell            string `yaml:"shell"`
	WorkingDirectory string `yaml:"working-directory"`
}

// JobDocument is one entry under `jobs:`.
type JobDocument struct {
	Name     string           `yaml:"name"`
	RunsOn   string           `yaml:"runs-on"`
	Strategy StrategyDocument `yaml:"strategy"`
	Env      map[string]any   `yaml:"env"`
	Defaults DefaultsDocument `yaml:"defaults"`
	If       string           `yaml:"if"`
	Steps    []StepDocument   `yaml:"steps"`
}

// StrategyDocument holds the job's matrix definition. The matrix mapping
// keeps axis keys raw; include and exclude are split out at compile time.
type StrategyDocument struct {
	Matrix   map[string]any `yaml:"matrix"`
	FailFast *bool          `yaml:"fail-fast"`
}

// StepDocument is one entry under a job's `steps:`.
type StepDocument struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Uses             string         `yaml:"uses"`
	Run              string         `yaml:"run"`
	With             map[string]any `yaml:"with"`
	Env              map[string]any `yaml:"env"`
	Shell            string         `yaml:"shell"`
	WorkingDirectory string         `yaml:"working-directory"`
	If               string         `yaml:"if"`
	ContinueOnError  bool           `yaml:"continue-on-error"`
}

// Parse decodes workflow YAML into a Document.
func Parse(data []byte) (*Document, error) {
	var doc Document

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}

	return &doc, nil
}
