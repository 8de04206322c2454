// Package httpserver implements the HTTP ingress surface (C9): the chi
// router, request/response wire handling, and SSE streaming glue between the
// inbound connection and the orchestrator (C8).
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"

	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/orchestrator"
	"github.com/llmrelay/llmrelay/pkg/telemetry"
)

// Settings configures the HTTP surface's ambient behavior beyond routing:
// resource caps and telemetry, both out of the core per spec §1/§5.
type Settings struct {
	// MaxStreams bounds concurrent in-flight requests on every route except
	// /health, streaming or not; 0 = unlimited.
	MaxStreams int
	// IngressRequestsPerSecond throttles new-request admission; 0 disables it.
	IngressRequestsPerSecond float64
	// IngressBurst is the token-bucket burst size for IngressRequestsPerSecond.
	IngressBurst int
	// Telemetry controls whether and how spans are recorded (pkg/telemetry).
	Telemetry *telemetry.Settings
}

// DefaultSettings returns unlimited caps with telemetry disabled.
func DefaultSettings() Settings {
	return Settings{Telemetry: telemetry.DefaultSettings()}
}

// Server mounts the core orchestrator behind chi routes per spec §6.
type Server struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	settings     Settings
	tracer       trace.Tracer
	streamCap    *streamCap
	ingress      *ingressLimiter
	zstd         *zstdDecoder
}

// New constructs a Server. It panics only if the zstd decoder cannot be
// constructed, which requires no external state and cannot fail in practice.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, settings Settings) *Server {
	zdec, err := newZstdDecoder()
	if err != nil {
		panic(err)
	}
	if settings.Telemetry == nil {
		settings.Telemetry = telemetry.DefaultSettings()
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orch,
		settings:     settings,
		tracer:       telemetry.GetTracer(settings.Telemetry),
		streamCap:    newStreamCap(settings.MaxStreams),
		ingress:      newIngressLimiter(settings.IngressRequestsPerSecond, settings.IngressBurst),
		zstd:         zdec,
	}
}

// Router builds the chi mux for spec §6's HTTP ingress table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(time.Duration(s.cfg.APITimeoutMS) * time.Millisecond * 2))
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "anthropic-version", "Content-Encoding"},
	}))
	r.Use(s.admissionControl)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/messages", s.handleMessages)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/responses", s.handleResponses)
	r.Post("/preset/{name}/v1/messages", s.handlePresetMessages)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// admissionControl rejects new requests with 503 once MaxStreams in-flight
// requests are already being served (spec §5 "Resource caps"), and 429s
// requests beyond the configured ingress rate.
func (s *Server) admissionControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.ingress.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "rate limited"})
			return
		}
		if !s.streamCap.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "too many concurrent streams"})
			return
		}
		defer s.streamCap.Release()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// handleModels lists every model named across all configured providers,
// spec §6's `/v1/models`.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var models []map[string]any
	for _, p := range s.cfg.Providers {
		for _, m := range p.Models {
			models = append(models, map[string]any{"id": m, "owned_by": p.Name})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": models})
}
