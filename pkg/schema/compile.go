package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Compile lowers a parsed document into the workflow model: triggers become
// rules, jobs are ordered by ID, matrix blocks are split into axes, include
// and exclude, and run defaults are resolved onto each step.
func Compile(doc *Document) (*models.Workflow, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}

	if len(doc.Jobs) == 0 {
		return nil, fmt.Errorf("workflow must define at least one job")
	}

	workflow := &models.Workflow{
		Name:     doc.Name,
		Status:   models.WorkflowStatusDraft,
		Triggers: compileTriggers(doc.On),
		Env:      convertEnv(doc.Env),
	}

	if len(workflow.Triggers) == 0 {
		return nil, fmt.Errorf("workflow must define at least one trigger")
	}

	for _, jobID := range sortedJobIDs(doc.Jobs) {
		job, err := compileJob(doc, jobID, doc.Jobs[jobID])
		if err != nil {
			return nil, err
		}

		workflow.Jobs = append(workflow.Jobs, job)
	}

	return workflow, nil
}

// Load validates, parses and compiles a workflow document in one call.
func Load(data []byte) (*models.Workflow, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return Compile(doc)
}

func compileTriggers(on TriggersDocument) []*models.TriggerRule {
	var rules []*models.TriggerRule

	if on.Push != nil {
		rules = append(rules, &models.TriggerRule{
			Event:    models.EventPush,
			Branches: on.Push.Branches,
		})
	}

	if on.PullRequest != nil {
		rules = append(rules, &models.TriggerRule{
			Event:    models.EventPullRequest,
			Branches: on.PullRequest.Branches,
		})
	}

	for _, entry := range on.Schedule {
		rules = append(rules, &models.TriggerRule{
			Event: models.EventSchedule,
			Cron:  entry.Cron,
		})
	}

	if on.WorkflowDispatch {
		rules = append(rules, &models.TriggerRule{Event: models.EventDispatch})
	}

	return rules
}

func compileJob(doc *Document, jobID string, jobDoc JobDocument) (*models.Job, error) {
	if jobDoc.RunsOn == "" {
		return nil, fmt.Errorf("job %q: runs-on is required", jobID)
	}

	if len(jobDoc.Steps) == 0 {
		return nil, fmt.Errorf("job %q: at least one step is required", jobID)
	}

	job := &models.Job{
		ID:     jobID,
		Name:   jobDoc.Name,
		RunsOn: jobDoc.RunsOn,
		Env:    convertEnv(jobDoc.Env),
	}

	if job.Name == "" {
		job.Name = jobID
	}

	if len(jobDoc.Strategy.Matrix) > 0 {
		matrix, err := compileMatrix(jobID, jobDoc.Strategy.Matrix)
		if err != nil {
			return nil, err
		}

		job.Strategy = &models.Strategy{Matrix: matrix}
	}

	seen := make(map[string]bool, len(jobDoc.Steps))

	for i, stepDoc := range jobDoc.Steps {
		step, err := compileStep(doc, jobID, jobDoc, i, stepDoc)
		if err != nil {
			return nil, err
		}

		if seen[step.UID] {
			return nil, fmt.Errorf("job %q: duplicate step id %q", jobID, step.UID)
		}

		seen[step.UID] = true
		job.Steps = append(job.Steps, step)
	}

	return job, nil
}

func compileMatrix(jobID string, raw map[string]any) (*models.Matrix, error) {
	matrix := &models.Matrix{Axes: make(map[string][]any)}

	for key, value := range raw {
		switch key {
		case "include", "exclude":
			entries, err := toMapSlice(value)
			if err != nil {
				return nil, fmt.Errorf("job %q: matrix %s %w", jobID, key, err)
			}

			if key == "include" {
				matrix.Include = entries
			} else {
				matrix.Exclude = entries
			}
		default:
			values, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("job %q: matrix axis %q must be a list of values", jobID, key)
			}

			matrix.Axes[key] = values
		}
	}

	if len(matrix.Axes) == 0 && len(matrix.Include) == 0 {
		return nil, fmt.Errorf("job %q: matrix must define at least one axis or include entry", jobID)
	}

	return matrix, nil
}

func toMapSlice(value any) ([]map[string]any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list of mappings")
	}

	entries := make([]map[string]any, 0, len(list))

	for _, element := range list {
		entry, ok := element.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("must be a list of mappings")
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func compileStep(doc *Document, jobID string, jobDoc JobDocument, index int, stepDoc StepDocument) (*models.Step, error) {
	if stepDoc.Uses == "" && stepDoc.Run == "" {
		return nil, fmt.Errorf("job %q step %d: one of 'uses' or 'run' is required", jobID, index+1)
	}

	if stepDoc.Uses != "" && stepDoc.Run != "" {
		return nil, fmt.Errorf("job %q step %d: 'uses' and 'run' are mutually exclusive", jobID, index+1)
	}

	step := &models.Step{
		UID:              stepDoc.ID,
		Name:             stepDoc.Name,
		Uses:             stepDoc.Uses,
		Run:              stepDoc.Run,
		With:             stepDoc.With,
		Env:              convertEnv(stepDoc.Env),
		If:               stepDoc.If,
		ContinueOnError:  stepDoc.ContinueOnError,
		Shell:            stepDoc.Shell,
		WorkingDirectory: stepDoc.WorkingDirectory,
	}

	if step.Name == "" {
		if step.Uses != "" {
			step.Name = step.Uses
		} else {
			step.Name = fmt.Sprintf("step %d", index+1)
		}
	}

	if step.UID == "" {
		step.UID = normalizeStepUID(step.Name)
	}

	if step.UID == "" {
		step.UID = fmt.Sprintf("step-%d", index+1)
	}

	// Run defaults cascade from the workflow to the job to the step. They
	// only apply to run steps; actions receive their inputs via `with`.
	if step.Run != "" {
		if step.Shell == "" {
			step.Shell = firstNonEmpty(jobDoc.Defaults.Run.Shell, doc.Defaults.Run.Shell)
		}

		if step.WorkingDirectory == "" {
			step.WorkingDirectory = firstNonEmpty(jobDoc.Defaults.Run.WorkingDirectory, doc.Defaults.Run.WorkingDirectory)
		}
	}

	return step, nil
}

// normalizeStepUID derives a step identifier from its display name: lower
// case, runs of non alphanumeric characters collapsed to single dashes.
func normalizeStepUID(name string) string {
	var b strings.Builder

	lastDash := true

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)

			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')

				lastDash = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}

func convertEnv(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	env := make(map[string]string, len(raw))

	for key, value := range raw {
		env[key] = fmt.Sprint(value)
	}

	return env
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}

func sortedJobIDs(jobs map[string]JobDocument) []string {
	ids := make([]string, 0, len(jobs))

	for id := range jobs {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
