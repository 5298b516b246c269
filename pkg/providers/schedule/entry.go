package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Entry is one cron rule of a published workflow, tracked by the poller with
// its next due time precomputed.
type Entry struct {
	WorkflowID string
	SourceID   string
	Cron       string
	NextDueAt  time.Time

	schedule cron.Schedule
}

// NewEntry parses the cron expression and computes the first due time after
// now. Expressions use the standard five field form.
func NewEntry(workflowID, cronExpr string, now time.Time) (*Entry, error) {
	parsed, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: invalid cron expression %q: %w", workflowID, cronExpr, err)
	}

	return &Entry{
		WorkflowID: workflowID,
		SourceID:   "schedule:" + workflowID,
		Cron:       cronExpr,
		NextDueAt:  parsed.Next(now),
		schedule:   parsed,
	}, nil
}

// Key identifies the entry across reconfigurations so an unchanged rule keeps
// its due time.
func (e *Entry) Key() string {
	return e.WorkflowID + "|" + e.Cron
}

// IsDue reports whether the entry should fire at the given time.
func (e *Entry) IsDue(now time.Time) bool {
	return !e.NextDueAt.After(now)
}

// Advance moves the due time to the next occurrence after now.
func (e *Entry) Advance(now time.Time) {
	e.NextDueAt = e.schedule.Next(now)
}
