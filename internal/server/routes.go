package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS and websocket origins.
	AllowedOrigins []string
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

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /batches", h.CreateBatch)
	mux.HandleFunc("GET /batches", h.ListBatches)
	mux.HandleFunc("GET /batches/{id}", h.GetBatch)
	mux.HandleFunc("DELETE /batches/{id}", h.DeleteBatch)
	mux.HandleFunc("POST /batches/{id}/convert", h.ConvertBatch)
	mux.HandleFunc("POST /batches/{id}/abort", h.AbortBatch)
	mux.HandleFunc("GET /batches/{id}/videos/{n}", h.GetVideo)
	mux.HandleFunc("POST /batches/{id}/archive", h.ArchiveBatch)
	mux.Handle("GET /batches/{id}/events", NewEventHandler(h, cfg.AllowedOrigins))

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
