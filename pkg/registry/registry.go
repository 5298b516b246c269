// Package registry holds the factories for step actions and source providers.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

type Registry struct {
	logger            *slog.Logger
	actionFactories   map[string]protocol.ActionFactory
	providerFactories map[string]protocol.ProviderFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:            log,
		actionFactories:   make(map[string]protocol.ActionFactory),
		providerFactories: make(map[string]protocol.ProviderFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.actionFactories[actionFactory.ID()] = actionFactory
}

func (r *Registry) RegisterProvider(providerFactory protocol.ProviderFactory) {
	r.providerFactories[providerFactory.ID()] = providerFactory
}

func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	return factory.Create(config)
}

func (r *Registry) CreateProvider(providerID string, config map[string]any, logger *slog.Logger) (protocol.Provider, error) {
	factory, ok := r.providerFactories[providerID]
	if !ok {
		return nil, fmt.Errorf("provider ID '%s' not registered", providerID)
	}

	return factory.Create(config, logger)
}

// GetProviderFactory returns the registered factory for a provider ID.
func (r *Registry) GetProviderFactory(providerID string) (protocol.ProviderFactory, error) {
	factory, ok := r.providerFactories[providerID]
	if !ok {
		return nil, fmt.Errorf("provider ID '%s' not registered", providerID)
	}

	return factory, nil
}

// AvailableActions returns the IDs of every registered action type.
func (r *Registry) AvailableActions() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// AvailableProviders returns the IDs of every registered source provider.
func (r *Registry) AvailableProviders() []string {
	ids := make([]string, 0, len(r.providerFactories))
	for id := range r.providerFactories {
		ids = append(ids, id)
	}

	return ids
}

func (r *Registry) LoadActionPlugins(pluginsPath string) ([]protocol.ActionFactory, error) {
	return loadPlugin[protocol.ActionFactory](r.logger, pluginsPath, "Action")
}

func (r *Registry) LoadProviderPlugins(pluginsPath string) ([]protocol.ProviderFactory, error) {
	return loadPlugin[protocol.ProviderFactory](r.logger, pluginsPath, "Provider")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export symbol %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s symbol %s has unexpected type", p, symbolName)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}

// HealthCheck reports whether the registry is ready to serve executions.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.actionFactories) == 0 {
		return "No action factories registered", false
	}

	return fmt.Sprintf("%d actions and %d providers registered",
		len(r.actionFactories), len(r.providerFactories)), true
}
