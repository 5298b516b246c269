// Package queue implements the Redis source provider. Deployments that
// cannot expose a webhook endpoint push repository events onto a Redis list
// instead, and this provider consumes them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

const (
	defaultQueue = "conveyor:events"
	defaultAddr  = "localhost:6379"

	pingTimeout = 5 * time.Second
	popTimeout  = time.Second
)

// QueueProvider consumes JSON event envelopes from a Redis list with BLPop.
// Each message carries at least an event name; the rest of the envelope
// becomes the event data the dispatcher matches on.
type QueueProvider struct {
	config   map[string]any
	logger   *slog.Logger
	callback protocol.SourceEventCallback

	queue   string
	options *redis.Options
	client  *redis.Client

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func (p *QueueProvider) Initialize(ctx context.Context, deps protocol.Dependencies) error {
	if deps.Logger != nil {
		p.logger = deps.Logger.With("module", "queue_provider")
	}

	queue := defaultQueue
	if raw, ok := p.config["queue"]; ok {
		value, ok := raw.(string)
		if !ok || value == "" {
			return fmt.Errorf("queue provider: queue must be a non-empty string, got %v", raw)
		}

		queue = value
	}

	p.queue = queue

	options, err := parseConnection(p.config)
	if err != nil {
		return err
	}

	p.options = options

	p.logger.InfoContext(ctx, "Queue provider initialized",
		"queue", p.queue, "addr", p.options.Addr, "db", p.options.DB)

	return nil
}

// Configure reports which published workflows can be triggered by queue
// messages. Messages are matched like any repository event, so every
// workflow with a non-schedule rule qualifies.
func (p *QueueProvider) Configure(workflows []*models.Workflow) (map[string]string, error) {
	configured := make(map[string]string)

	for _, workflow := range workflows {
		if !workflow.IsTriggerable() {
			continue
		}

		for _, rule := range workflow.Triggers {
			if !rule.IsSchedule() {
				configured[workflow.ID] = p.sourceID()

				break
			}
		}
	}

	p.logger.Info("Queue provider configured", "workflows", len(configured))

	return configured, nil
}

func (p *QueueProvider) Prepare(ctx context.Context) error {
	if p.options == nil {
		return fmt.Errorf("queue provider: not initialized")
	}

	p.logger.DebugContext(ctx, "Queue provider prepared", "queue", p.queue)

	return nil
}

func (p *QueueProvider) Start(ctx context.Context, callback protocol.SourceEventCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	if p.options == nil {
		return fmt.Errorf("queue provider: not initialized")
	}

	p.client = redis.NewClient(p.options)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := p.client.Ping(pingCtx).Err(); err != nil {
		closeErr := p.client.Close()
		p.client = nil

		return errors.Join(fmt.Errorf("queue provider: failed to connect to redis at %s: %w", p.options.Addr, err), closeErr)
	}

	p.callback = callback
	p.stopCh = make(chan struct{})
	p.started = true

	p.wg.Add(1)
	go p.consume(ctx)

	p.logger.InfoContext(ctx, "Queue provider started", "queue", p.queue)

	return nil
}

func (p *QueueProvider) Stop(ctx context.Context) error {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()

		return nil
	}

	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	err := p.client.Close()
	p.client = nil

	p.logger.InfoContext(ctx, "Queue provider stopped", "queue", p.queue)

	return err
}

func (p *QueueProvider) Validate() error {
	if p.queue == "" {
		return fmt.Errorf("queue provider: queue name is required")
	}

	if p.options == nil {
		return fmt.Errorf("queue provider: not initialized")
	}

	return nil
}

func (p *QueueProvider) consume(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		result, err := p.client.BLPop(ctx, popTimeout, p.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			if ctx.Err() != nil {
				return
			}

			p.logger.Error("Failed to pop from queue", "queue", p.queue, "error", err)
			time.Sleep(popTimeout)

			continue
		}

		// BLPop returns [key, value].
		if len(result) < 2 {
			continue
		}

		p.handleMessage(ctx, result[1])
	}
}

func (p *QueueProvider) handleMessage(ctx context.Context, payload string) {
	event, eventData, err := decodeMessage(payload)
	if err != nil {
		p.logger.Warn("Discarding queue message", "queue", p.queue, "error", err)

		return
	}

	if err := p.callback(ctx, p.sourceID(), "queue", event, eventData); err != nil {
		p.logger.Error("Failed to process queue message",
			"queue", p.queue, "event", event, "error", err)
	}
}

func (p *QueueProvider) sourceID() string {
	return "queue:" + p.queue
}

// decodeMessage parses a queue message into an event name and its data. The
// envelope is a JSON object with at least an event field; everything else,
// branch, commit, workflow_id, inputs, rides along as event data.
func decodeMessage(payload string) (string, map[string]any, error) {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return "", nil, fmt.Errorf("message is not a JSON object: %w", err)
	}

	event, ok := envelope["event"].(string)
	if !ok || event == "" {
		return "", nil, fmt.Errorf("message has no event field")
	}

	return event, envelope, nil
}

func parseConnection(config map[string]any) (*redis.Options, error) {
	options := &redis.Options{Addr: defaultAddr}

	raw, ok := config["connection"]
	if !ok || raw == nil {
		return options, nil
	}

	connection, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("queue provider: connection must be a map, got %T", raw)
	}

	if addr, ok := connection["addr"].(string); ok && addr != "" {
		options.Addr = addr
	}

	if password, ok := connection["password"].(string); ok {
		options.Password = password
	}

	if rawDB, ok := connection["db"]; ok {
		db, err := parseDB(rawDB)
		if err != nil {
			return nil, err
		}

		options.DB = db
	}

	return options, nil
}

func parseDB(raw any) (int, error) {
	switch value := raw.(type) {
	case int:
		return value, nil
	case float64:
		return int(value), nil
	case string:
		db, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("queue provider: invalid db %q", value)
		}

		return db, nil
	default:
		return 0, fmt.Errorf("queue provider: invalid db type %T", raw)
	}
}
