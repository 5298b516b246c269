package schema

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Validate checks a workflow document against the document schema, then
// enforces the constraints the schema cannot express: action references must
// be pinned and cron entries must parse.
func Validate(data []byte) error {
	var raw any

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse workflow document: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(documentSchema())
	documentLoader := gojsonschema.NewGoLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate workflow document: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("workflow document validation failed: %s", strings.Join(errs, "; "))
	}

	doc, err := Parse(data)
	if err != nil {
		return err
	}

	if err := validateActionRefs(doc); err != nil {
		return err
	}

	return validateSchedules(doc)
}

// validateActionRefs requires every `uses:` reference to carry an explicit
// version, written as <action>@<version>.
func validateActionRefs(doc *Document) error {
	var errs []string

	for _, jobID := range sortedJobIDs(doc.Jobs) {
		job := doc.Jobs[jobID]

		for i, step := range job.Steps {
			if step.Uses == "" {
				continue
			}

			name, ref, found := strings.Cut(step.Uses, "@")
			if !found || name == "" || ref == "" || strings.Contains(ref, "@") {
				errs = append(errs, fmt.Sprintf(
					"job %q step %d: action reference %q must be pinned as <action>@<version>",
					jobID, i+1, step.Uses))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("workflow document validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateSchedules parses every cron entry with the standard five field
// format.
func validateSchedules(doc *Document) error {
	for i, entry := range doc.On.Schedule {
		if entry.Cron == "" {
			return fmt.Errorf("schedule entry %d: cron expression is required", i+1)
		}

		if _, err := cron.ParseStandard(entry.Cron); err != nil {
			return fmt.Errorf("schedule entry %d: invalid cron expression %q: %w", i+1, entry.Cron, err)
		}
	}

	return nil
}

// documentSchema returns the JSON Schema for workflow documents.
func documentSchema() map[string]any {
	envSchema := map[string]any{
		"type": "object",
		"additionalProperties": map[string]any{
			"type": []string{"string", "number", "boolean"},
		},
	}

	runDefaultsSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"shell":             shellSchema(),
			"working-directory": map[string]any{"type": "string", "minLength": 1},
		},
	}

	defaultsSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"run": runDefaultsSchema,
		},
	}

	stepSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"id":                map[string]any{"type": "string", "minLength": 1},
			"name":              map[string]any{"type": "string", "minLength": 1},
			"uses":              map[string]any{"type": "string", "minLength": 1},
			"run":               map[string]any{"type": "string", "minLength": 1},
			"with":              map[string]any{"type": "object"},
			"env":               envSchema,
			"shell":             shellSchema(),
			"working-directory": map[string]any{"type": "string", "minLength": 1},
			"if":                map[string]any{"type": "string"},
			"continue-on-error": map[string]any{"type": "boolean"},
		},
		"oneOf": []map[string]any{
			{"required": []string{"uses"}},
			{"required": []string{"run"}},
		},
	}

	strategySchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"matrix": map[string]any{
				"type":          "object",
				"minProperties": 1,
			},
			"fail-fast": map[string]any{"type": "boolean"},
		},
		"required": []string{"matrix"},
	}

	jobSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"runs-on", "steps"},
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "minLength": 1},
			"runs-on":  map[string]any{"type": "string", "minLength": 1},
			"strategy": strategySchema,
			"env":      envSchema,
			"defaults": defaultsSchema,
			"if":       map[string]any{"type": "string"},
			"steps": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    stepSchema,
			},
		},
	}

	eventName := map[string]any{
		"type": "string",
		"enum": []string{"push", "pull_request", "schedule", "workflow_dispatch"},
	}

	branchFilterSchema := map[string]any{
		"type":                 []string{"object", "null"},
		"additionalProperties": false,
		"properties": map[string]any{
			"branches": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "minLength": 1},
			},
		},
	}

	triggersSchema := map[string]any{
		"oneOf": []map[string]any{
			eventName,
			{
				"type":     "array",
				"minItems": 1,
				"items":    eventName,
			},
			{
				"type":                 "object",
				"minProperties":        1,
				"additionalProperties": false,
				"properties": map[string]any{
					"push":         branchFilterSchema,
					"pull_request": branchFilterSchema,
					"schedule": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"required":             []string{"cron"},
							"properties": map[string]any{
								"cron": map[string]any{"type": "string", "minLength": 1},
							},
						},
					},
					"workflow_dispatch": map[string]any{
						"type": []string{"object", "null"},
					},
				},
			},
		},
	}

	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"name", "on", "jobs"},
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "minLength": 1},
			"on":       triggersSchema,
			"env":      envSchema,
			"defaults": defaultsSchema,
			"jobs": map[string]any{
				"type":                 "object",
				"minProperties":        1,
				"additionalProperties": jobSchema,
				"propertyNames": map[string]any{
					"pattern": "^[a-zA-Z_][a-zA-Z0-9_-]*$",
				},
			},
		},
	}
}

func shellSchema() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{"bash", "sh", "pwsh", "powershell", "cmd", "python"},
	}
}
