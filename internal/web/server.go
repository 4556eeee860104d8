// Package web is the daemon's HTTP surface: event ingestion, direct
// notification, debug streaming, and the public response/audio viewers.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trakhq/trak/internal/auth"
	"github.com/trakhq/trak/internal/bus"
	"github.com/trakhq/trak/internal/metrics"
	"github.com/trakhq/trak/internal/notify"
	"github.com/trakhq/trak/internal/store"
	"github.com/trakhq/trak/internal/summarizer"
	"github.com/trakhq/trak/internal/tracker"
)

// Config wires the server to the rest of the daemon.
type Config struct {
	// BaseURL is the externally reachable prefix for audio/response links.
	BaseURL string

	// AudioDir is where TTS clips live; /audio/{id} serves from here.
	AudioDir string

	// RequireAuth gates the protected routes.
	RequireAuth bool

	// HeartbeatInterval is the SSE keepalive cadence. Zero means the
	// 15s default.
	HeartbeatInterval time.Duration

	// StorePollInterval is the SSE watermark-poll cadence that catches
	// events the in-process hub never saw. Zero means the 1s default.
	StorePollInterval time.Duration
}

// Server handles all HTTP routes.
type Server struct {
	cfg        Config
	store      *store.Store
	tracker    *tracker.Tracker
	hub        *bus.Hub
	summarizer *summarizer.Summarizer
	dispatcher *notify.Dispatcher
	queue      *notify.AudioQueue
	responses  *notify.ResponseStore
	auth       *auth.Service
	metrics    *metrics.Metrics
	tracer     *metrics.Tracer
	logger     *slog.Logger
	startedAt  time.Time
}

// New assembles the server. The metrics and tracer handles may be nil.
func New(cfg Config, st *store.Store, tr *tracker.Tracker, hub *bus.Hub, sum *summarizer.Summarizer, disp *notify.Dispatcher, queue *notify.AudioQueue, responses *notify.ResponseStore, authSvc *auth.Service, m *metrics.Metrics, tracer *metrics.Tracer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.StorePollInterval <= 0 {
		cfg.StorePollInterval = defaultStorePollInterval
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		tracker:    tr,
		hub:        hub,
		summarizer: sum,
		dispatcher: disp,
		queue:      queue,
		responses:  responses,
		auth:       authSvc,
		metrics:    m,
		tracer:     tracer,
		logger:     logger.With("component", "web"),
		startedAt:  time.Now(),
	}
}

// Handler builds the route table. Public routes bypass auth; protected
// routes go through the bearer-key middleware when enforcement is on.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /response/{id}", s.handleResponse)
	mux.HandleFunc("GET /audio/{id}", s.handleAudio)
	mux.HandleFunc("GET /project/{name}/latest-response", s.handleLatestResponse)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Protected
	protected := auth.Middleware(s.auth, s.cfg.RequireAuth, s.logger)
	mux.Handle("POST /events", protected(http.HandlerFunc(s.handleEvents)))
	mux.Handle("POST /notify", protected(http.HandlerFunc(s.handleNotify)))
	mux.Handle("GET /queue", protected(http.HandlerFunc(s.handleQueue)))
	mux.Handle("GET /debug", protected(http.HandlerFunc(s.handleDebugIndex)))
	mux.Handle("GET /debug/{project}", protected(http.HandlerFunc(s.handleDebugStream)))
	mux.Handle("GET /debug/{project}/ui", protected(http.HandlerFunc(s.handleDebugUI)))

	return LoggingMiddleware(s.logger, s.metrics)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
