// Package config loads the dispatcher configuration file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DispatcherConfig declares which source providers the dispatcher runs and
// how each one is configured.
type DispatcherConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig enables one source provider. The configuration map is
// handed to the provider factory as-is and validated by the provider itself.
type ProviderConfig struct {
	ID            string         `yaml:"id"`
	Configuration map[string]any `yaml:"configuration"`
}

// LoadDispatcherConfig reads and validates a dispatcher config file.
func LoadDispatcherConfig(path string) (DispatcherConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config DispatcherConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return DispatcherConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for i := range config.Providers {
		if config.Providers[i].Configuration == nil {
			config.Providers[i].Configuration = map[string]any{}
		}
	}

	if err := ValidateDispatcherConfig(config); err != nil {
		return DispatcherConfig{}, err
	}

	return config, nil
}

// LoadDispatcherConfigOrDefault loads the config file, falling back to the
// default provider set (webhook and schedule) when no path is given or the
// file does not exist. A file that exists but fails to parse or validate is
// still an error.
func LoadDispatcherConfigOrDefault(path string) (DispatcherConfig, error) {
	if path == "" {
		return DefaultDispatcherConfig(), nil
	}

	config, err := LoadDispatcherConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultDispatcherConfig(), nil
		}

		return DispatcherConfig{}, err
	}

	return config, nil
}

// DefaultDispatcherConfig enables the providers that need no external
// infrastructure.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Providers: []ProviderConfig{
			{ID: "webhook", Configuration: map[string]any{}},
			{ID: "schedule", Configuration: map[string]any{}},
		},
	}
}

// ValidateDispatcherConfig checks the structure of the config. Provider
// specific settings are validated by each provider's Validate.
func ValidateDispatcherConfig(config DispatcherConfig) error {
	if len(config.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(config.Providers))

	for i, provider := range config.Providers {
		if provider.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}

		if seen[provider.ID] {
			return fmt.Errorf("providers[%d]: provider %q configured twice", i, provider.ID)
		}

		seen[provider.ID] = true
	}

	return nil
}
