package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

const defaultPort = 8085

// WebhookProvider runs an HTTP endpoint that turns webhook deliveries from
// forges into repository events. Sources come from the dispatcher
// configuration; published workflows subscribe to them through their push and
// pull_request trigger rules.
type WebhookProvider struct {
	config  map[string]any
	logger  *slog.Logger
	server  *Server
	sources []*Source
	port    int

	mu      sync.Mutex
	started bool
}

// Initialize resolves the listen port and parses the configured sources.
// When no sources are configured a single default endpoint is registered so
// a fresh install can receive deliveries without further setup.
func (p *WebhookProvider) Initialize(ctx context.Context, deps protocol.Dependencies) error {
	if deps.Logger != nil {
		p.logger = deps.Logger.With("module", "webhook_provider")
	}

	port, err := p.resolvePort()
	if err != nil {
		return err
	}

	p.port = port

	sources, err := ParseSources(p.config)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		sources = []*Source{DefaultSource()}
	}

	p.sources = sources
	p.server = NewServer(p.port, p.logger)

	p.logger.InfoContext(ctx, "Webhook provider initialized",
		"port", p.port, "sources", len(p.sources))

	return nil
}

// Configure reports which published workflows listen to webhook events. The
// returned map is bookkeeping for the dispatcher; deliveries are broadcast,
// so every source can trigger every matching workflow.
func (p *WebhookProvider) Configure(workflows []*models.Workflow) (map[string]string, error) {
	if len(p.sources) == 0 {
		return nil, fmt.Errorf("webhook provider: not initialized")
	}

	configured := make(map[string]string)

	for _, workflow := range workflows {
		if !workflow.IsTriggerable() {
			continue
		}

		for _, rule := range workflow.Triggers {
			if rule.Event == models.EventPush || rule.Event == models.EventPullRequest {
				configured[workflow.ID] = p.sources[0].ID

				break
			}
		}
	}

	p.logger.Info("Webhook provider configured", "workflows", len(configured))

	return configured, nil
}

// Prepare registers the parsed sources with the server.
func (p *WebhookProvider) Prepare(ctx context.Context) error {
	if p.server == nil {
		return fmt.Errorf("webhook provider: not initialized")
	}

	for _, source := range p.sources {
		p.server.RegisterSource(source)
		p.logger.DebugContext(ctx, "Registered webhook source",
			"source_id", source.ID, "events", source.Events)
	}

	return nil
}

func (p *WebhookProvider) Start(ctx context.Context, callback protocol.SourceEventCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	if p.server == nil {
		return fmt.Errorf("webhook provider: not initialized")
	}

	p.server.SetCallback(callback)

	if err := p.server.Start(ctx); err != nil {
		return fmt.Errorf("webhook provider: failed to start server: %w", err)
	}

	p.started = true

	return nil
}

func (p *WebhookProvider) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	p.started = false

	if p.server != nil {
		return p.server.Stop(ctx)
	}

	return nil
}

func (p *WebhookProvider) Validate() error {
	if p.port < 1 || p.port > 65535 {
		return fmt.Errorf("webhook provider: invalid port %d", p.port)
	}

	if len(p.sources) == 0 {
		return fmt.Errorf("webhook provider: no sources configured")
	}

	for _, source := range p.sources {
		if err := source.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// resolvePort picks the listen port from config, then the environment, then
// the default.
func (p *WebhookProvider) resolvePort() (int, error) {
	if raw, ok := p.config["port"]; ok {
		switch value := raw.(type) {
		case int:
			return value, nil
		case float64:
			return int(value), nil
		case string:
			port, err := strconv.Atoi(value)
			if err != nil {
				return 0, fmt.Errorf("webhook provider: invalid port %q", value)
			}

			return port, nil
		default:
			return 0, fmt.Errorf("webhook provider: invalid port type %T", raw)
		}
	}

	if value := os.Getenv("CONVEYOR_WEBHOOK_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("webhook provider: invalid CONVEYOR_WEBHOOK_PORT %q", value)
		}

		return port, nil
	}

	return defaultPort, nil
}
