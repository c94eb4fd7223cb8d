// Package bootstrap provides dependency initialization for the PanoStitch API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/panostitch/internal/audio"
	"github.com/maauso/panostitch/internal/batch"
	"github.com/maauso/panostitch/internal/config"
	"github.com/maauso/panostitch/internal/media"
	"github.com/maauso/panostitch/internal/pipeline"
	"github.com/maauso/panostitch/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	BatchService *batch.Service
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	sweepStale(store, cfg.StaleWorkAge, logger)

	policy := media.CanvasPolicy(cfg.CompositeCanvas)
	if !policy.IsValid() {
		return nil, fmt.Errorf("unknown canvas policy %q", cfg.CompositeCanvas)
	}

	// Initialize media processor and audio extractor
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath,
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithCanvasPolicy(policy),
	)
	extractor := audio.NewFFmpegExtractor(cfg.FFmpegPath, processor)

	// Initialize the per-clip stages and the batch orchestrator
	stages := pipeline.NewStages(processor, extractor, store, logger)
	orchestrator := pipeline.NewOrchestrator(stages, cfg.MaxConcurrentClips, logger)

	// Initialize BatchService
	svc := batch.NewService(
		batch.NewMemoryRepository(),
		orchestrator,
		store,
		batch.NewBroker(),
		logger,
	)

	logger.Info("pipeline configured",
		slog.String("canvas", string(policy)),
		slog.Int("workers", cfg.MaxConcurrentClips),
		slog.String("ffmpeg", cfg.FFmpegPath),
	)

	return &Dependencies{
		BatchService: svc,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
			slog.String("prefix", cfg.S3Prefix),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// sweepStale removes work directories left behind by a previous process.
// Failures are logged; they never prevent startup.
func sweepStale(store storage.Storage, olderThan time.Duration, logger *slog.Logger) {
	sw, ok := store.(storage.Sweeper)
	if !ok || olderThan <= 0 {
		return
	}

	removed, err := sw.SweepStale(context.Background(), olderThan)
	if err != nil {
		logger.Warn("stale work sweep failed", slog.String("error", err.Error()))
	}
	if removed > 0 {
		logger.Info("removed stale work directories",
			slog.Int("count", removed),
			slog.Duration("older_than", olderThan),
		)
	}
}
