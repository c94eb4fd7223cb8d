// Package main provides the entry point for the PanoStitch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/panostitch/internal/bootstrap"
	"github.com/maauso/panostitch/internal/config"
	"github.com/maauso/panostitch/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	logger.Info("starting PanoStitch API", slog.Any("config", cfg))

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	srv := newHTTPServer(cfg, deps, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return err
	}

	return shutdown(srv, deps, logger)
}

// newHTTPServer builds the API server. Write timeouts are long because an
// archive response starts only after every clip was resized.
func newHTTPServer(cfg *config.Config, deps *bootstrap.Dependencies, logger *slog.Logger) *http.Server {
	handlers := server.NewHandlers(deps.BatchService, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
	)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.NewRouter(handlers, logger, server.DefaultConfig()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       time.Minute,
	}
}

// shutdown stops accepting requests, then aborts running converts and ends
// every batch session.
func shutdown(srv *http.Server, deps *bootstrap.Dependencies, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.BatchService.Shutdown(ctx); err != nil {
		return fmt.Errorf("batch shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
