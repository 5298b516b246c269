// Package schedule implements the cron source provider. A single poller
// tracks the schedule rules of every published workflow and emits a targeted
// schedule event each time one comes due.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

const defaultPollInterval = time.Minute

type ScheduleProvider struct {
	config       map[string]any
	logger       *slog.Logger
	callback     protocol.SourceEventCallback
	pollInterval time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	started bool
	done    chan struct{}
}

func (p *ScheduleProvider) Initialize(ctx context.Context, deps protocol.Dependencies) error {
	if deps.Logger != nil {
		p.logger = deps.Logger.With("module", "schedule_provider")
	}

	interval, err := p.resolvePollInterval()
	if err != nil {
		return err
	}

	p.pollInterval = interval
	p.entries = make(map[string]*Entry)

	p.logger.InfoContext(ctx, "Schedule provider initialized", "poll_interval", p.pollInterval)

	return nil
}

// Configure rebuilds the entry set from the current workflows. A rule that
// survives reconfiguration unchanged keeps its due time, so republishing an
// unrelated workflow does not reset running clocks. Rules with a cron
// expression that no longer parses are skipped and logged.
func (p *ScheduleProvider) Configure(workflows []*models.Workflow) (map[string]string, error) {
	now := time.Now().UTC()
	configured := make(map[string]string)
	entries := make(map[string]*Entry)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, workflow := range workflows {
		if !workflow.IsTriggerable() {
			continue
		}

		for _, rule := range workflow.Triggers {
			if !rule.IsSchedule() {
				continue
			}

			entry, err := NewEntry(workflow.ID, rule.Cron, now)
			if err != nil {
				p.logger.Warn("Skipping schedule rule", "workflow_id", workflow.ID, "error", err)

				continue
			}

			if existing, ok := p.entries[entry.Key()]; ok {
				entry.NextDueAt = existing.NextDueAt
			}

			entries[entry.Key()] = entry
			configured[workflow.ID] = entry.SourceID
		}
	}

	p.entries = entries

	p.logger.Info("Schedule provider configured",
		"entries", len(entries), "workflows", len(configured))

	return configured, nil
}

func (p *ScheduleProvider) Prepare(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entries == nil {
		return fmt.Errorf("schedule provider: not initialized")
	}

	p.logger.DebugContext(ctx, "Schedule provider prepared", "entries", len(p.entries))

	return nil
}

func (p *ScheduleProvider) Start(ctx context.Context, callback protocol.SourceEventCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.callback = callback
	p.done = make(chan struct{})
	p.started = true

	go p.poll(ctx)

	p.logger.InfoContext(ctx, "Schedule provider started", "entries", len(p.entries))

	return nil
}

func (p *ScheduleProvider) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	p.started = false
	close(p.done)

	p.logger.InfoContext(ctx, "Schedule provider stopped")

	return nil
}

func (p *ScheduleProvider) Validate() error {
	if p.pollInterval <= 0 {
		return fmt.Errorf("schedule provider: poll interval must be positive, got %s", p.pollInterval)
	}

	return nil
}

func (p *ScheduleProvider) poll(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processDue(ctx, time.Now().UTC())
		}
	}
}

// processDue fires every entry that has come due and advances its clock. An
// entry whose callback fails keeps its due time and is retried on the next
// tick.
func (p *ScheduleProvider) processDue(ctx context.Context, now time.Time) {
	p.mu.Lock()
	due := make([]*Entry, 0)

	for _, entry := range p.entries {
		if entry.IsDue(now) {
			due = append(due, entry)
		}
	}

	callback := p.callback
	p.mu.Unlock()

	if callback == nil {
		return
	}

	for _, entry := range due {
		eventData := map[string]any{
			"event":       models.EventSchedule,
			"workflow_id": entry.WorkflowID,
			"cron":        entry.Cron,
			"due_at":      entry.NextDueAt.Format(time.RFC3339),
		}

		err := callback(ctx, entry.SourceID, "schedule", models.EventSchedule, eventData)
		if err != nil {
			p.logger.Error("Failed to emit schedule event",
				"workflow_id", entry.WorkflowID, "cron", entry.Cron, "error", err)

			continue
		}

		p.mu.Lock()
		entry.Advance(now)
		p.mu.Unlock()

		p.logger.Info("Schedule fired",
			"workflow_id", entry.WorkflowID, "cron", entry.Cron, "next_due_at", entry.NextDueAt)
	}
}

func (p *ScheduleProvider) resolvePollInterval() (time.Duration, error) {
	raw, ok := p.config["poll_interval"]
	if !ok {
		return defaultPollInterval, nil
	}

	value, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("schedule provider: poll_interval must be a duration string, got %T", raw)
	}

	interval, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("schedule provider: invalid poll_interval %q: %w", value, err)
	}

	if interval <= 0 {
		return 0, fmt.Errorf("schedule provider: poll_interval must be positive, got %s", interval)
	}

	return interval, nil
}
