package services

import (
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/conveyor-ci/conveyor/pkg/models"
)

// TriggerMatcher evaluates repository events against workflow trigger rules.
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult pairs a workflow with the trigger rule that matched.
type MatchResult struct {
	Workflow *models.Workflow
	Rule     *models.TriggerRule
}

// NewTriggerMatcher creates a new trigger matcher.
func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns the workflows whose trigger rules match the event.
// A workflow is scheduled at most once per event even when several of its
// rules match.
func (tm *TriggerMatcher) MatchWorkflows(sourceEvent *events.SourceEvent, workflows []*models.Workflow) []MatchResult {
	var results []MatchResult

	tm.logger.Debug("Matching source event against workflows",
		"event_name", sourceEvent.EventName,
		"branch", sourceEvent.Branch(),
		"workflows_count", len(workflows))

	for _, workflow := range workflows {
		if !workflow.IsTriggerable() {
			continue
		}

		for _, rule := range workflow.Triggers {
			if rule.Matches(sourceEvent.EventName, sourceEvent.Branch()) {
				results = append(results, MatchResult{Workflow: workflow, Rule: rule})

				tm.logger.Debug("Found matching workflow",
					"workflow_id", workflow.ID,
					"workflow_name", workflow.Name,
					"trigger_event", rule.Event)

				break
			}
		}
	}

	tm.logger.Info("Completed trigger matching",
		"event_name", sourceEvent.EventName,
		"branch", sourceEvent.Branch(),
		"matches_found", len(results))

	return results
}
