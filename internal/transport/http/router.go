// Package httptransport is the thin HTTP layer over the analysis
// orchestrator. Handlers delegate to domain services without embedding
// business logic so transport concerns remain isolated.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"urldater/internal/cache"
	"urldater/internal/collect"
	"urldater/internal/orchestrator"
	"urldater/internal/platform/metrics"
	"urldater/internal/platform/middleware"
)

// Analyzer runs one analysis per target URL. An empty module set means all
// evidence sources.
type Analyzer interface {
	Analyze(ctx context.Context, rawURL string, modules []collect.Module) (*orchestrator.Response, error)
}

// Config controls transport behavior.
type Config struct {
	// RequestTimeout bounds one HTTP request end to end. It must exceed the
	// orchestrator's master deadline or every slow analysis dies here first.
	RequestTimeout time.Duration
	// CacheTTL is how long analysis responses stay servable from cache.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 90 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Handler serves the public API.
type Handler struct {
	analyzer Analyzer
	cache    cache.Cache
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates the HTTP handler. cache may be nil to disable caching.
func New(analyzer Analyzer, responseCache cache.Cache, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		analyzer: analyzer,
		cache:    responseCache,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  m,
	}
}

// Router wires all public endpoints behind the shared middleware chain.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))
	r.Use(middleware.ContentTypeJSON)

	r.Post("/api/analyze", h.handleAnalyze)
	r.Post("/api/export/{kind}", h.handleExport)
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError keeps the JSON error envelope consistent across handlers.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
