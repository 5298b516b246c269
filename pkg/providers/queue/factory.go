package queue

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
	return "queue"
}

func (f *Factory) Name() string {
	return "Queue"
}

func (f *Factory) Description() string {
	return "Consumes repository event envelopes from a Redis list for deployments that cannot receive webhooks"
}

func (f *Factory) EventTypes() []string {
	return []string{models.EventPush, models.EventPullRequest, models.EventDispatch}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queue": map[string]any{
				"type":        "string",
				"description": "Redis list consumed with BLPop",
				"default":     defaultQueue,
			},
			"connection": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"addr": map[string]any{
						"type":        "string",
						"description": "host:port of the Redis server",
						"default":     defaultAddr,
					},
					"password": map[string]any{
						"type": "string",
					},
					"db": map[string]any{
						"type":    "integer",
						"default": 0,
					},
				},
			},
		},
	}
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Provider, error) {
	return &QueueProvider{
		config: config,
		logger: logger.With("module", "queue_provider"),
	}, nil
}
