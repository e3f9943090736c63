// Package api provides the HTTP surface of the service: the change
// notification webhook, health endpoints and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Syncer runs one sync pipeline invocation.
type Syncer interface {
	Run(ctx context.Context) error
}

// ReadinessChecker reports whether the backing store is reachable.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ServerOption configures the API server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	gatherer    prometheus.Gatherer
}

// WithMiddlewares adds middleware to the server.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsGatherer exposes the given registry on /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) ServerOption {
	return func(cfg *serverConfig) {
		cfg.gatherer = g
	}
}

// NewServer creates and configures the HTTP router.
func NewServer(syncer Syncer, readiness ReadinessChecker, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", HealthRouter(readiness))
	r.Post("/webhook", webhookHandler(syncer))

	if cfg.gatherer != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
