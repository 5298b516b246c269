package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/config"
	"github.com/conveyor-ci/conveyor/pkg/eventbus"
	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
	"github.com/conveyor-ci/conveyor/pkg/registry"
	"github.com/conveyor-ci/conveyor/pkg/services"
)

const restartLimit = 5

// DispatcherManager runs the configured source providers together with the
// services that turn their events into runs: the dispatch service consuming
// the source event bus and the run aggregator folding instance results back
// into run state.
type DispatcherManager struct {
	id               string
	eventBus         eventbus.EventBus
	sourceEventBus   eventbus.SourceEventBus
	runningProviders map[string]protocol.Provider
	providerMutex    sync.RWMutex
	logger           *slog.Logger
	persistence      persistence.Persistence
	registry         *registry.Registry
	providerConfigs  []config.ProviderConfig
	restartCount     int
}

func NewDispatcherManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	sourceEventBus eventbus.SourceEventBus,
	logger *slog.Logger,
	registry *registry.Registry,
	providerConfigs []config.ProviderConfig,
) *DispatcherManager {
	return &DispatcherManager{
		id:               id,
		logger:           logger.With("module", "conveyor-dispatcher", "dispatcher_id", id),
		persistence:      persistence,
		registry:         registry,
		eventBus:         eventBus,
		sourceEventBus:   sourceEventBus,
		runningProviders: make(map[string]protocol.Provider),
		providerConfigs:  providerConfigs,
	}
}

func (dm *DispatcherManager) Start(ctx context.Context) {
	dmCtx, cancel := context.WithCancel(ctx)

	dm.logger.Info("Starting dispatcher manager")

	dm.handleSignals(dmCtx, cancel)
	dm.run(dmCtx, cancel)
}

func (dm *DispatcherManager) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		dm.logger.Info("Received signal", "signal", sig)

		switch sig {
		case syscall.SIGHUP:
			dm.logger.Info("Reloading configuration...")
			dm.restart(ctx, cancel)
		case syscall.SIGINT, syscall.SIGTERM:
			dm.logger.Info("Shutting down gracefully...")
			dm.stop(ctx, cancel)
			os.Exit(0)
		default:
			dm.logger.Warn("Unhandled signal received", "signal", sig)
		}
	}()
}

// restart tears down every provider and starts over. SIGHUP lands here so a
// changed workflow set is picked up without bouncing the process.
func (dm *DispatcherManager) restart(ctx context.Context, cancel context.CancelFunc) {
	dm.restartCount++
	dmCtx := context.WithoutCancel(ctx)
	dm.stop(dmCtx, cancel)

	if dm.restartCount > restartLimit {
		dm.logger.Error("Restart limit reached, exiting...")
		os.Exit(1)
	}

	backoff := time.Duration(dm.restartCount) * time.Second
	dm.logger.Info("Restarting dispatcher manager...", "backoff", backoff)
	time.Sleep(backoff)

	dm.Start(dmCtx)
}

func (dm *DispatcherManager) run(ctx context.Context, cancel context.CancelFunc) {
	dispatch := services.NewDispatchService(dm.persistence, dm.eventBus, dm.logger)
	if err := dispatch.Start(ctx, dm.sourceEventBus); err != nil {
		dm.logger.Error("Failed to start dispatch service", "error", err)
		dm.restart(ctx, cancel)

		return
	}

	aggregator := services.NewRunAggregator(dm.persistence, dm.eventBus, dm.logger)
	if err := aggregator.Start(ctx); err != nil {
		dm.logger.Error("Failed to start run aggregator", "error", err)
		dm.restart(ctx, cancel)

		return
	}

	dm.startProviders(ctx)

	dm.logger.Info("Dispatcher manager started successfully")

	<-ctx.Done()

	dm.logger.Info("Dispatcher manager stopped")
}

func (dm *DispatcherManager) startProviders(ctx context.Context) {
	workflowService := services.NewWorkflow(dm.persistence)

	dm.logger.Info("Starting source providers", "count", len(dm.providerConfigs))

	var wg sync.WaitGroup

	for _, providerConfig := range dm.providerConfigs {
		wg.Add(1)

		go func(pc config.ProviderConfig) {
			defer wg.Done()

			if err := dm.startProvider(ctx, workflowService, pc); err != nil {
				dm.logger.Error("Failed to start source provider",
					"provider_id", pc.ID,
					"error", err)
			}
		}(providerConfig)
	}

	wg.Wait()
}

func (dm *DispatcherManager) startProvider(ctx context.Context, workflowService *services.Workflow, pc config.ProviderConfig) error {
	provider, err := dm.registry.CreateProvider(pc.ID, pc.Configuration, dm.logger)
	if err != nil {
		return err
	}

	if lifecycle, ok := provider.(protocol.ProviderLifecycle); ok {
		if err := lifecycle.Initialize(ctx, protocol.Dependencies{Logger: dm.logger}); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}

		workflows, err := workflowService.ListPublished(ctx)
		if err != nil {
			return fmt.Errorf("list published workflows: %w", err)
		}

		assignments, err := lifecycle.Configure(workflows)
		if err != nil {
			return fmt.Errorf("configure: %w", err)
		}

		dm.logger.Info("Configured source provider",
			"provider_id", pc.ID,
			"workflows", len(assignments))

		if err := lifecycle.Prepare(ctx); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
	}

	if err := provider.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	dm.providerMutex.Lock()
	dm.runningProviders[pc.ID] = provider
	dm.providerMutex.Unlock()

	if err := provider.Start(ctx, dm.publishSourceEvent); err != nil {
		dm.providerMutex.Lock()
		delete(dm.runningProviders, pc.ID)
		dm.providerMutex.Unlock()

		return err
	}

	dm.logger.Info("Started source provider", "provider_id", pc.ID)

	return nil
}

// publishSourceEvent is the callback handed to every provider. The dispatch
// service validates and evaluates the event on the consuming side.
func (dm *DispatcherManager) publishSourceEvent(ctx context.Context, sourceID, providerID, eventType string, eventData map[string]any) error {
	logger := dm.logger.With(
		"source_id", sourceID,
		"provider_id", providerID,
		"event_type", eventType)

	sourceEvent := events.NewSourceEvent(sourceID, providerID, eventType, eventData)

	if err := dm.sourceEventBus.PublishSourceEvent(ctx, sourceEvent); err != nil {
		logger.Error("Failed to publish source event", "error", err)

		return err
	}

	logger.Info("Published source event")

	return nil
}

func (dm *DispatcherManager) stop(ctx context.Context, cancel context.CancelFunc) {
	dm.logger.Info("Stopping dispatcher manager")

	if cancel != nil {
		cancel()
	}

	dm.providerMutex.Lock()
	defer dm.providerMutex.Unlock()

	for providerID, provider := range dm.runningProviders {
		dm.logger.Info("Stopping source provider", "provider_id", providerID)

		if err := provider.Stop(ctx); err != nil {
			dm.logger.Error("Error stopping source provider",
				"provider_id", providerID,
				"error", err)
		}
	}

	dm.runningProviders = make(map[string]protocol.Provider)
	dm.logger.Info("All source providers stopped")
}
