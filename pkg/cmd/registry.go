// Package cmd provides common initialization for the conveyor binaries.
package cmd

import (
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/actions/checkout"
	"github.com/conveyor-ci/conveyor/pkg/actions/run"
	"github.com/conveyor-ci/conveyor/pkg/actions/toolchain"
	"github.com/conveyor-ci/conveyor/pkg/actions/upload_artifact"
	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/providers/queue"
	"github.com/conveyor-ci/conveyor/pkg/providers/schedule"
	"github.com/conveyor-ci/conveyor/pkg/providers/webhook"
	"github.com/conveyor-ci/conveyor/pkg/registry"
)

func registerActionPlugins(reg *registry.Registry, pluginsPath string) {
	actionPlugins, err := reg.LoadActionPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}
}

func registerProviderPlugins(reg *registry.Registry, pluginsPath string) {
	providerPlugins, err := reg.LoadProviderPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range providerPlugins {
		reg.RegisterProvider(plugin)
	}
}

func registerNativeActions(reg *registry.Registry, store *artifacts.Store) {
	reg.RegisterAction(checkout.NewActionFactory())
	reg.RegisterAction(toolchain.NewActionFactory())
	reg.RegisterAction(run.NewActionFactory())
	reg.RegisterAction(upload_artifact.NewActionFactory(store))
}

func registerNativeProviders(reg *registry.Registry) {
	reg.RegisterProvider(webhook.NewFactory())
	reg.RegisterProvider(schedule.NewFactory())
	reg.RegisterProvider(queue.NewFactory())
}

// NewRegistry builds the registry with the native step actions and source
// providers, then loads any plugins found under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string, store *artifacts.Store) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg, store)
	registerNativeProviders(reg)

	if pluginsPath != "" {
		registerActionPlugins(reg, pluginsPath)
		registerProviderPlugins(reg, pluginsPath)
	}

	return reg
}
