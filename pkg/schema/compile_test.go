package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/schema"
)

func TestLoad_CanonicalDocument(t *testing.T) {
	workflow, err := schema.Load(readCanonicalDocument(t))
	require.NoError(t, err)

	assert.Equal(t, "canary-context", workflow.Name)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)

	require.Len(t, workflow.Triggers, 2)
	assert.Equal(t, models.EventPush, workflow.Triggers[0].Event)
	assert.Equal(t, []string{"main"}, workflow.Triggers[0].Branches)
	assert.Equal(t, models.EventPullRequest, workflow.Triggers[1].Event)
	assert.Equal(t, []string{"main"}, workflow.Triggers[1].Branches)

	require.Len(t, workflow.Jobs, 1)
	job := workflow.Jobs[0]
	assert.Equal(t, "build", job.ID)
	assert.Equal(t, "${{ matrix.os }}", job.RunsOn)

	combinations := job.MatrixCombinations()
	require.Len(t, combinations, 2)
	assert.Equal(t, map[string]any{"os": "ubuntu-latest"}, combinations[0])
	assert.Equal(t, map[string]any{"os": "windows-latest"}, combinations[1])

	require.Len(t, job.Steps, 5)

	assert.Equal(t, "checkout-sources", job.Steps[0].UID)
	assert.Equal(t, "actions/checkout@v4", job.Steps[0].Uses)

	assert.Equal(t, "install-rust-toolchain", job.Steps[1].UID)
	assert.Equal(t, "dtolnay/rust-toolchain@stable", job.Steps[1].Uses)

	assert.Equal(t, "build-release-binary", job.Steps[2].UID)
	assert.Equal(t, "cargo build --release", job.Steps[2].Run)
	assert.Equal(t, "./canary-context", job.Steps[2].WorkingDirectory)

	assert.Equal(t, "upload-linux-binary", job.Steps[3].UID)
	assert.Equal(t, "actions/upload-artifact@v4", job.Steps[3].Uses)
	assert.Equal(t, "matrix.os == 'ubuntu-latest'", job.Steps[3].If)
	assert.Equal(t, map[string]any{
		"name": "linux-binary",
		"path": "canary-context/target/release/canary-context",
	}, job.Steps[3].With)

	assert.Equal(t, "upload-windows-binary", job.Steps[4].UID)
	assert.Equal(t, "matrix.os == 'windows-latest'", job.Steps[4].If)
	assert.Equal(t, map[string]any{
		"name": "windows-binary",
		"path": `canary-context\target\release\canary-context.exe`,
	}, job.Steps[4].With)
}

func TestCompile(t *testing.T) {
	t.Run("orders jobs by ID", func(t *testing.T) {
		doc := &schema.Document{
			Name: "ci",
			On:   schema.TriggersDocument{WorkflowDispatch: true},
			Jobs: map[string]schema.JobDocument{
				"windows-build": {RunsOn: "windows-latest", Steps: []schema.StepDocument{{Run: "make"}}},
				"linux-build":   {RunsOn: "ubuntu-latest", Steps: []schema.StepDocument{{Run: "make"}}},
			},
		}

		workflow, err := schema.Compile(doc)
		require.NoError(t, err)

		require.Len(t, workflow.Jobs, 2)
		assert.Equal(t, "linux-build", workflow.Jobs[0].ID)
		assert.Equal(t, "windows-build", workflow.Jobs[1].ID)
	})

	t.Run("defaults job and step names", func(t *testing.T) {
		doc := &schema.Document{
			Name: "ci",
			On:   schema.TriggersDocument{WorkflowDispatch: true},
			Jobs: map[string]schema.JobDocument{
				"build": {
					RunsOn: "ubuntu-latest",
					Steps: []schema.StepDocument{
						{Run: "make"},
						{Uses: "actions/checkout@v4"},
					},
				},
			},
		}

		workflow, err := schema.Compile(doc)
		require.NoError(t, err)

		job := workflow.Jobs[0]
		assert.Equal(t, "build", job.Name)

		assert.Equal(t, "step 1", job.Steps[0].Name)
		assert.Equal(t, "step-1", job.Steps[0].UID)

		assert.Equal(t, "actions/checkout@v4", job.Steps[1].Name)
		assert.Equal(t, "actions-checkout-v4", job.Steps[1].UID)
	})

	t.Run("cascades run defaults", func(t *testing.T) {
		doc := &schema.Document{
			Name: "ci",
			On:   schema.TriggersDocument{WorkflowDispatch: true},
			Defaults: schema.DefaultsDocument{
				Run: schema.RunDefaultsDocument{Shell: "bash", WorkingDirectory: "./app"},
			},
			Jobs: map[string]schema.JobDocument{
				"build": {
					RunsOn: "ubuntu-latest",
					Defaults: schema.DefaultsDocument{
						Run: schema.RunDefaultsDocument{Shell: "sh"},
					},
					Steps: []schema.StepDocument{
						{ID: "compile", Run: "make"},
						{ID: "lint", Run: "make lint", Shell: "pwsh", WorkingDirectory: "./tools"},
						{ID: "fetch", Uses: "actions/checkout@v4"},
					},
				},
			},
		}

		workflow, err := schema.Compile(doc)
		require.NoError(t, err)

		steps := workflow.Jobs[0].Steps

		assert.Equal(t, "sh", steps[0].Shell)
		assert.Equal(t, "./app", steps[0].WorkingDirectory)

		assert.Equal(t, "pwsh", steps[1].Shell)
		assert.Equal(t, "./tools", steps[1].WorkingDirectory)

		assert.Empty(t, steps[2].Shell)
		assert.Empty(t, steps[2].WorkingDirectory)
	})

	t.Run("splits matrix include and exclude", func(t *testing.T) {
		doc := &schema.Document{
			Name: "ci",
			On:   schema.TriggersDocument{WorkflowDispatch: true},
			Jobs: map[string]schema.JobDocument{
				"build": {
					RunsOn: "${{ matrix.os }}",
					Strategy: schema.StrategyDocument{
						Matrix: map[string]any{
							"os":      []any{"ubuntu-latest", "windows-latest"},
							"channel": []any{"stable", "beta"},
							"exclude": []any{map[string]any{"os": "windows-latest", "channel": "beta"}},
							"include": []any{map[string]any{"os": "ubuntu-latest", "channel": "stable", "coverage": true}},
						},
					},
					Steps: []schema.StepDocument{{Run: "make"}},
				},
			},
		}

		workflow, err := schema.Compile(doc)
		require.NoError(t, err)

		matrix := workflow.Jobs[0].Strategy.Matrix
		require.NotNil(t, matrix)
		assert.Len(t, matrix.Axes, 2)
		require.Len(t, matrix.Exclude, 1)
		require.Len(t, matrix.Include, 1)

		combinations := workflow.Jobs[0].MatrixCombinations()
		assert.Len(t, combinations, 3)
	})

	t.Run("converts env values to strings", func(t *testing.T) {
		doc := &schema.Document{
			Name: "ci",
			On:   schema.TriggersDocument{WorkflowDispatch: true},
			Env:  map[string]any{"CARGO_TERM_COLOR": "always", "RETRIES": 3, "VERBOSE": true},
			Jobs: map[string]schema.JobDocument{
				"build": {RunsOn: "ubuntu-latest", Steps: []schema.StepDocument{{Run: "make"}}},
			},
		}

		workflow, err := schema.Compile(doc)
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"CARGO_TERM_COLOR": "always",
			"RETRIES":          "3",
			"VERBOSE":          "true",
		}, workflow.Env)
	})
}

func TestCompile_Errors(t *testing.T) {
	minimalJobs := map[string]schema.JobDocument{
		"build": {RunsOn: "ubuntu-latest", Steps: []schema.StepDocument{{Run: "make"}}},
	}

	tests := []struct {
		name         string
		doc          *schema.Document
		wantContains string
	}{
		{
			name:         "missing name",
			doc:          &schema.Document{On: schema.TriggersDocument{WorkflowDispatch: true}, Jobs: minimalJobs},
			wantContains: "workflow name is required",
		},
		{
			name:         "no jobs",
			doc:          &schema.Document{Name: "ci", On: schema.TriggersDocument{WorkflowDispatch: true}},
			wantContains: "at least one job",
		},
		{
			name:         "no triggers",
			doc:          &schema.Document{Name: "ci", Jobs: minimalJobs},
			wantContains: "at least one trigger",
		},
		{
			name: "job without runs-on",
			doc: &schema.Document{
				Name: "ci",
				On:   schema.TriggersDocument{WorkflowDispatch: true},
				Jobs: map[string]schema.JobDocument{
					"build": {Steps: []schema.StepDocument{{Run: "make"}}},
				},
			},
			wantContains: "runs-on is required",
		},
		{
			name: "job without steps",
			doc: &schema.Document{
				Name: "ci",
				On:   schema.TriggersDocument{WorkflowDispatch: true},
				Jobs: map[string]schema.JobDocument{
					"build": {RunsOn: "ubuntu-latest"},
				},
			},
			wantContains: "at least one step",
		},
		{
			name: "step with both uses and run",
			doc: &schema.Document{
				Name: "ci",
				On:   schema.TriggersDocument{WorkflowDispatch: true},
				Jobs: map[string]schema.JobDocument{
					"build": {
						RunsOn: "ubuntu-latest",
						Steps:  []schema.StepDocument{{Uses: "actions/checkout@v4", Run: "make"}},
					},
				},
			},
			wantContains: "mutually exclusive",
		},
		{
			name: "duplicate step ids",
			doc: &schema.Document{
				Name: "ci",
				On:   schema.TriggersDocument{WorkflowDispatch: true},
				Jobs: map[string]schema.JobDocument{
					"build": {
						RunsOn: "ubuntu-latest",
						Steps: []schema.StepDocument{
							{Name: "Build it", Run: "make"},
							{Name: "build it", Run: "make again"},
						},
					},
				},
			},
			wantContains: `duplicate step id "build-it"`,
		},
		{
			name: "matrix axis is not a list",
			doc: &schema.Document{
				Name: "ci",
				On:   schema.TriggersDocument{WorkflowDispatch: true},
				Jobs: map[string]schema.JobDocument{
					"build": {
						RunsOn:   "${{ matrix.os }}",
						Strategy: schema.StrategyDocument{Matrix: map[string]any{"os": "ubuntu-latest"}},
						Steps:    []schema.StepDocument{{Run: "make"}},
					},
				},
			},
			wantContains: "must be a list of values",
		},
		{
			name: "matrix include is not a list of mappings",
			doc: &schema.Document{
				Name: "ci",
				On:   schema.TriggersDocument{WorkflowDispatch: true},
				Jobs: map[string]schema.JobDocument{
					"build": {
						RunsOn: "${{ matrix.os }}",
						Strategy: schema.StrategyDocument{Matrix: map[string]any{
							"os":      []any{"ubuntu-latest"},
							"include": []any{"coverage"},
						}},
						Steps: []schema.StepDocument{{Run: "make"}},
					},
				},
			},
			wantContains: "must be a list of mappings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Compile(tt.doc)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantContains)
		})
	}
}
