package models

import "slices"

// Repository event names a trigger rule can bind to.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
	EventSchedule    = "schedule"
	EventDispatch    = "workflow_dispatch"
)

// TriggerRule restricts when a workflow run is scheduled: an event kind plus
// either a branch filter (push, pull_request) or a cron expression (schedule).
type TriggerRule struct {
	Event    string   `json:"event"              validate:"required"`
	Branches []string `json:"branches,omitempty"`
	Cron     string   `json:"cron,omitempty"`
}

// Matches reports whether an incoming repository event satisfies this rule.
// For pull_request events the branch is the base branch of the change. An
// empty branch filter matches every branch.
func (r *TriggerRule) Matches(event, branch string) bool {
	if r.Event != event {
		return false
	}

	if r.Event == EventSchedule {
		// Schedule rules fire from the poller, never from repository events.
		return false
	}

	if len(r.Branches) == 0 {
		return true
	}

	return slices.Contains(r.Branches, branch)
}

// IsSchedule reports whether this rule is cron driven.
func (r *TriggerRule) IsSchedule() bool {
	return r.Event == EventSchedule && r.Cron != ""
}
