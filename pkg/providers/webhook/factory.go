package webhook

import (
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// Factory creates webhook provider instances for the dispatcher.
type Factory struct{}

var _ protocol.ProviderFactory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "webhook"
}

func (f *Factory) Name() string {
	return "Webhook"
}

func (f *Factory) Description() string {
	return "Receives push and pull_request deliveries from forges over HTTP and turns them into repository events"
}

func (f *Factory) EventTypes() []string {
	return []string{models.EventPush, models.EventPullRequest}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"port": map[string]any{
				"type":        "integer",
				"description": "HTTP port the webhook server listens on",
				"default":     defaultPort,
				"minimum":     1,
				"maximum":     65535,
			},
			"sources": map[string]any{
				"type":        "array",
				"description": "Webhook endpoints exposed under /hooks/{token}",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "Source identifier stamped on emitted events",
						},
						"token": map[string]any{
							"type":        "string",
							"description": "URL path segment the sender posts to",
						},
						"secret": map[string]any{
							"type":        "string",
							"description": "HMAC-SHA256 signing secret; deliveries without a valid signature are rejected",
						},
						"events": map[string]any{
							"type":        "array",
							"description": "Accepted event names, defaults to push and pull_request",
							"items":       map[string]any{"type": "string"},
						},
						"schemas": map[string]any{
							"type":        "object",
							"description": "Optional JSON schema per event name applied to delivery payloads",
						},
						"active": map[string]any{
							"type":    "boolean",
							"default": true,
						},
					},
					"required": []string{"id", "token"},
				},
			},
		},
	}
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Provider, error) {
	return &WebhookProvider{
		config: config,
		logger: logger.With("module", "webhook_provider"),
	}, nil
}
