package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
	maxBodySize     = 1 << 20 // 1MB

	// EventHeader names the repository event carried by a delivery. Senders
	// that speak GitHub's dialect are accepted through its header as well.
	EventHeader       = "X-Conveyor-Event"
	GitHubEventHeader = "X-GitHub-Event"
	SignatureHeader   = "X-Hub-Signature-256"
)

// Server receives webhook deliveries on /hooks/{token} and forwards them to
// the provider callback as repository events.
type Server struct {
	port     int
	server   *http.Server
	callback protocol.SourceEventCallback
	logger   *slog.Logger

	mu      sync.RWMutex
	sources map[string]*Source
	started bool
}

func NewServer(port int, logger *slog.Logger) *Server {
	return &Server{
		port:    port,
		logger:  logger.With("module", "webhook_server"),
		sources: make(map[string]*Source),
	}
}

// SetCallback installs the function invoked for each accepted delivery.
func (s *Server) SetCallback(callback protocol.SourceEventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = callback
}

// RegisterSource makes the source reachable under its token. Registering a
// second source with the same token replaces the first.
func (s *Server) RegisterSource(source *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source.Token] = source
}

// UnregisterSource removes the source registered under the token.
func (s *Server) UnregisterSource(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, token)
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hooks/", s.handleHook)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		s.logger.InfoContext(ctx, "Webhook server listening", "port", s.port)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "Webhook server failed", "error", err)
		}
	}()

	s.started = true

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.started = false
	s.server = nil

	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "only POST is accepted")

		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/hooks/")
	if token == "" || strings.Contains(token, "/") {
		s.writeError(w, http.StatusNotFound, "unknown webhook endpoint")

		return
	}

	s.mu.RLock()
	source := s.sources[token]
	callback := s.callback
	s.mu.RUnlock()

	if source == nil || !source.Active {
		s.writeError(w, http.StatusNotFound, "unknown webhook endpoint")

		return
	}

	event := r.Header.Get(EventHeader)
	if event == "" {
		event = r.Header.Get(GitHubEventHeader)
	}

	if event == "" {
		s.writeError(w, http.StatusBadRequest, "missing event header")

		return
	}

	if !source.AllowsEvent(event) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("event %q not accepted by this endpoint", event))

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")

		return
	}

	if source.Secret != "" {
		if err := verifySignature(source.Secret, body, r.Header.Get(SignatureHeader)); err != nil {
			s.logger.Warn("Rejected unsigned delivery", "source_id", source.ID, "error", err)
			s.writeError(w, http.StatusUnauthorized, "signature verification failed")

			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "payload is not valid JSON")

		return
	}

	if schema := source.SchemaFor(event); schema != nil {
		if err := validatePayload(schema, payload); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())

			return
		}
	}

	if callback == nil {
		s.writeError(w, http.StatusServiceUnavailable, "webhook source not ready")

		return
	}

	eventData := normalizePayload(event, payload)

	if err := callback(r.Context(), source.ID, "webhook", event, eventData); err != nil {
		s.logger.Error("Failed to process webhook delivery",
			"source_id", source.ID, "event", event, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process event")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "accepted",
		"source": source.ID,
		"event":  event,
	})
}

// verifySignature checks the hex HMAC-SHA256 of the body against the
// sha256=<hex> header GitHub-style senders attach.
func verifySignature(secret string, body []byte, header string) error {
	if header == "" {
		return errors.New("missing signature header")
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return errors.New("unsupported signature scheme")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return errors.New("signature mismatch")
	}

	return nil
}

func validatePayload(schema map[string]any, payload map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, validationErr := range result.Errors() {
			descriptions = append(descriptions, validationErr.String())
		}

		return fmt.Errorf("payload validation failed: %s", strings.Join(descriptions, "; "))
	}

	return nil
}

// normalizePayload turns a GitHub-style delivery into the flat event data the
// dispatcher matches on. The raw payload stays available to step expressions
// under the payload key.
func normalizePayload(event string, payload map[string]any) map[string]any {
	eventData := map[string]any{
		"event":   event,
		"payload": payload,
	}

	switch event {
	case models.EventPush:
		if ref, ok := payload["ref"].(string); ok {
			eventData["branch"] = strings.TrimPrefix(ref, "refs/heads/")
		}

		if after, ok := payload["after"].(string); ok && after != "" {
			eventData["commit"] = after
		} else if head, ok := payload["head_commit"].(map[string]any); ok {
			if id, ok := head["id"].(string); ok {
				eventData["commit"] = id
			}
		}
	case models.EventPullRequest:
		pr, ok := payload["pull_request"].(map[string]any)
		if !ok {
			break
		}

		// Runs for pull requests are matched on the base branch, the one
		// the change wants to land on.
		if base, ok := pr["base"].(map[string]any); ok {
			if ref, ok := base["ref"].(string); ok {
				eventData["branch"] = ref
			}
		}

		if head, ok := pr["head"].(map[string]any); ok {
			if sha, ok := head["sha"].(string); ok {
				eventData["commit"] = sha
			}
		}

		if action, ok := payload["action"].(string); ok {
			eventData["action"] = action
		}
	}

	if repo, ok := payload["repository"].(map[string]any); ok {
		if fullName, ok := repo["full_name"].(string); ok {
			eventData["repository"] = fullName
		}
	}

	return eventData
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}
