package webhook

import (
	"fmt"
	"slices"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// DefaultEvents is the event allowlist applied to sources that do not
// configure their own.
var DefaultEvents = []string{models.EventPush, models.EventPullRequest}

// Source is a single webhook endpoint. The token is the path segment the
// sender posts to, the secret (when set) must sign every delivery, and the
// events list restricts which repository events the endpoint accepts.
type Source struct {
	ID      string
	Token   string
	Secret  string
	Events  []string
	Schemas map[string]map[string]any
	Active  bool
}

// AllowsEvent reports whether the source accepts the given event name.
func (s *Source) AllowsEvent(event string) bool {
	return slices.Contains(s.Events, event)
}

// SchemaFor returns the payload schema configured for the event, or nil when
// deliveries for that event are accepted unvalidated.
func (s *Source) SchemaFor(event string) map[string]any {
	if s.Schemas == nil {
		return nil
	}

	return s.Schemas[event]
}

// Validate checks the source definition for the fields the server needs to
// route and authenticate deliveries.
func (s *Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("webhook source: id is required")
	}

	if s.Token == "" {
		return fmt.Errorf("webhook source %s: token is required", s.ID)
	}

	if len(s.Events) == 0 {
		return fmt.Errorf("webhook source %s: events list is empty", s.ID)
	}

	return nil
}

// DefaultSource returns the source registered when the provider config does
// not declare any. It accepts push and pull_request deliveries on
// /hooks/default without a signing secret.
func DefaultSource() *Source {
	return &Source{
		ID:     "default",
		Token:  "default",
		Events: slices.Clone(DefaultEvents),
		Active: true,
	}
}

// ParseSources reads the sources list out of the provider configuration.
// Each entry must carry an id and a token; events default to push and
// pull_request and sources are active unless disabled explicitly.
func ParseSources(config map[string]any) ([]*Source, error) {
	raw, ok := config["sources"]
	if !ok || raw == nil {
		return nil, nil
	}

	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("webhook sources: expected a list, got %T", raw)
	}

	sources := make([]*Source, 0, len(entries))
	tokens := make(map[string]string, len(entries))

	for i, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("webhook sources[%d]: expected a map, got %T", i, entry)
		}

		source, err := parseSource(item)
		if err != nil {
			return nil, fmt.Errorf("webhook sources[%d]: %w", i, err)
		}

		if other, exists := tokens[source.Token]; exists {
			return nil, fmt.Errorf("webhook sources: token of %s already used by %s", source.ID, other)
		}

		tokens[source.Token] = source.ID
		sources = append(sources, source)
	}

	return sources, nil
}

func parseSource(item map[string]any) (*Source, error) {
	source := &Source{
		Active: true,
	}

	if id, ok := item["id"].(string); ok {
		source.ID = id
	}

	if token, ok := item["token"].(string); ok {
		source.Token = token
	}

	if secret, ok := item["secret"].(string); ok {
		source.Secret = secret
	}

	if active, ok := item["active"].(bool); ok {
		source.Active = active
	}

	events, err := parseEvents(item["events"])
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		events = slices.Clone(DefaultEvents)
	}

	source.Events = events

	schemas, err := parseSchemas(item["schemas"])
	if err != nil {
		return nil, err
	}

	source.Schemas = schemas

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

func parseEvents(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("events: expected a list, got %T", raw)
	}

	events := make([]string, 0, len(list))

	for _, entry := range list {
		event, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("events: expected a string, got %T", entry)
		}

		events = append(events, event)
	}

	return events, nil
}

func parseSchemas(raw any) (map[string]map[string]any, error) {
	if raw == nil {
		return nil, nil
	}

	items, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schemas: expected a map keyed by event, got %T", raw)
	}

	schemas := make(map[string]map[string]any, len(items))

	for event, entry := range items {
		schema, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schemas.%s: expected a JSON schema object, got %T", event, entry)
		}

		schemas[event] = schema
	}

	return schemas, nil
}
