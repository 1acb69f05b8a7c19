// Package httpapi exposes the flow engine over HTTP. State lives in the
// snapshot store behind the session manager; handlers are stateless.
package httpapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/ports"
	"github.com/pergolahq/pergola/pkg/session"
)

//go:embed openapi.yaml
var openapiSpec []byte

// SpecDocument parses and validates the embedded OpenAPI contract. Serve
// commands call it at startup so a malformed shipped contract fails fast.
func SpecDocument(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, err
	}
	return doc, nil
}

// Server wires the engine and session manager into HTTP handlers.
type Server struct {
	engine   ports.TurnEngine
	sessions *session.Manager
	flow     *domain.FlowConfig
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler builds the HTTP handler for the engine. The prometheus
// registry, when non-nil, is served at /metrics.
func NewHandler(engine ports.TurnEngine, sessions *session.Manager, flow *domain.FlowConfig, reg *prometheus.Registry, opts ...Option) http.Handler {
	s := &Server{
		engine:   engine,
		sessions: sessions,
		flow:     flow,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Get("/flow", s.inspectFlow)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Post("/conversations", s.createConversation)
	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Get("/", s.getConversation)
		r.Delete("/", s.deleteConversation)
		r.Post("/turns", s.processTurn)
		r.Post("/resume", s.resumeConversation)
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "flow": s.flow.Name})
}

func (s *Server) inspectFlow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Inspect())
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	// Body is optional; ignore decode errors for an empty body.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	convo, err := s.sessions.LoadOrStart(r.Context(), body.ID, s.flow.Name, s.flow.Entry)
	if err != nil {
		s.logger.Error("create conversation failed", "error", err)
		http.Error(w, "failed to create conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, convo)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	convo, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		s.notFoundOr500(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, convo)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete conversation failed", "conversation", id, "error", err)
		http.Error(w, "failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) processTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var intent domain.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "invalid intent record", http.StatusBadRequest)
		return
	}
	if intent.Name == "" {
		http.Error(w, "intent is required", http.StatusBadRequest)
		return
	}

	var decision *domain.Decision
	err := s.sessions.WithLock(r.Context(), id, func(ctx context.Context) error {
		convo, err := s.sessions.Store().Load(ctx, id)
		if err != nil {
			return err
		}
		decision, err = s.engine.ProcessTurn(ctx, convo, intent)
		if err != nil {
			return err
		}
		return s.sessions.Store().Save(ctx, id, convo)
	})
	if err != nil {
		s.turnError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) resumeConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var decision *domain.Decision
	err := s.sessions.WithLock(r.Context(), id, func(ctx context.Context) error {
		convo, err := s.sessions.Store().Load(ctx, id)
		if err != nil {
			return err
		}
		decision, err = s.engine.Resume(ctx, convo)
		if err != nil {
			return err
		}
		return s.sessions.Store().Save(ctx, id, convo)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotInterrupted) {
			http.Error(w, "conversation is not interrupted", http.StatusConflict)
			return
		}
		s.turnError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) turnError(w http.ResponseWriter, err error, id string) {
	var flowErr *domain.FlowError
	var replayErr *domain.HistoryReplayError
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
	case errors.As(err, &flowErr), errors.As(err, &replayErr):
		s.logger.Warn("turn rejected", "conversation", id, "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("turn failed", "conversation", id, "error", err)
		http.Error(w, "turn processing failed", http.StatusInternalServerError)
	}
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error, id string) {
	if errors.Is(err, domain.ErrConversationNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	s.logger.Error("conversation lookup failed", "conversation", id, "error", err)
	http.Error(w, "lookup failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
