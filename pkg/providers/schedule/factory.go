package schedule

import (
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

type Factory struct{}

var _ protocol.ProviderFactory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "schedule"
}

func (f *Factory) Name() string {
	return "Schedule"
}

func (f *Factory) Description() string {
	return "Fires the cron trigger rules of published workflows at their due times"
}

func (f *Factory) EventTypes() []string {
	return []string{models.EventSchedule}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"poll_interval": map[string]any{
				"type":        "string",
				"description": "How often due times are checked, as a Go duration",
				"default":     defaultPollInterval.String(),
			},
		},
	}
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Provider, error) {
	return &ScheduleProvider{
		config: config,
		logger: logger.With("module", "schedule_provider"),
	}, nil
}
