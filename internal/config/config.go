// Package config loads and validates the process configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the process configuration, read from the environment.
// Enum values are matched case-insensitively.
type Config struct {
	Port        int `env:"PORT, default=8080" validate:"min=1,max=65535"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=512" validate:"min=1"`

	TempDir string `env:"TEMP_DIR, default=/tmp/panostitch" validate:"required"`
	// StaleWorkAge is the age past which leftover work directories are
	// removed at startup. Zero disables the sweep.
	StaleWorkAge time.Duration `env:"STALE_WORK_AGE, default=1h"`

	MaxConcurrentClips int    `env:"MAX_CONCURRENT_CLIPS, default=2" validate:"min=1,max=64"`
	CompositeCanvas    string `env:"COMPOSITE_CANVAS, default=native" validate:"oneof=native strict fixed"`
	FFmpegPath         string `env:"FFMPEG_PATH, default=ffmpeg" validate:"required"`
	FFprobePath        string `env:"FFPROBE_PATH, default=ffprobe" validate:"required"`

	// S3 is enabled when both bucket and region are set.
	S3Bucket           string `env:"S3_BUCKET"`
	S3Region           string `env:"S3_REGION"`
	S3Endpoint         string `env:"S3_ENDPOINT" validate:"omitempty,url"`
	S3Prefix           string `env:"S3_PREFIX"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	LogFormat string `env:"LOG_FORMAT, default=text" validate:"oneof=json text"`
	LogLevel  string `env:"LOG_LEVEL, default=info" validate:"oneof=debug info warn warning error"`
}

// S3Enabled reports whether archives can be pushed to S3.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.CompositeCanvas = strings.ToLower(cfg.CompositeCanvas)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// NewLogger returns a logger writing to stdout in the configured format.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LogValue implements slog.LogValuer. Credentials are never included.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.Int("max_upload_mb", c.MaxUploadMB),
		slog.String("temp_dir", c.TempDir),
		slog.Duration("stale_work_age", c.StaleWorkAge),
		slog.Int("max_concurrent_clips", c.MaxConcurrentClips),
		slog.String("composite_canvas", c.CompositeCanvas),
		slog.String("ffmpeg_path", c.FFmpegPath),
		slog.String("ffprobe_path", c.FFprobePath),
		slog.Bool("s3_enabled", c.S3Enabled()),
		slog.String("s3_bucket", c.S3Bucket),
		slog.String("s3_region", c.S3Region),
		slog.String("s3_endpoint", c.S3Endpoint),
		slog.String("s3_prefix", c.S3Prefix),
		slog.String("log_format", c.LogFormat),
		slog.String("log_level", c.LogLevel),
	)
}

// parseLogLevel maps a level name to slog.Level; unknown names yield info.
func parseLogLevel(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
