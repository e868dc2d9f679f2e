package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/speechguard-api/internal/observe"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics records HTTP request latency. Nil disables recording.
	Metrics *observe.Metrics
	// MetricsHandler is mounted at GET /metrics when non-nil.
	MetricsHandler http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /moderations", h.CreateModeration)
	mux.HandleFunc("GET /moderations", h.ListModerations)
	mux.HandleFunc("GET /moderations/{id}", h.GetModeration)
	mux.HandleFunc("DELETE /moderations/{id}", h.CancelModeration)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		TelemetryMiddleware(cfg.Metrics),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
