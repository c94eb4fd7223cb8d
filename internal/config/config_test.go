package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "MAX_UPLOAD_MB", "TEMP_DIR", "STALE_WORK_AGE", "MAX_CONCURRENT_CLIPS", "COMPOSITE_CANVAS",
		"FFMPEG_PATH", "FFPROBE_PATH", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "LOG_FORMAT", "LOG_LEVEL",
	} {
		if v, ok := os.LookupEnv(key); ok {
			_ = os.Unsetenv(key)
			t.Cleanup(func() { _ = os.Setenv(key, v) })
		}
	}
}

// validConfig mirrors the defaults Load applies.
func validConfig() *Config {
	return &Config{
		Port:               8080,
		MaxUploadMB:        512,
		TempDir:            "/tmp/panostitch",
		StaleWorkAge:       time.Hour,
		MaxConcurrentClips: 2,
		CompositeCanvas:    "native",
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		LogFormat:          "text",
		LogLevel:           "info",
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, validConfig(), cfg)
		assert.False(t, cfg.S3Enabled())
		assert.Equal(t, int64(512<<20), cfg.MaxUploadBytes())
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearEnv(t)
		env := map[string]string{
			"PORT":                  "9090",
			"MAX_UPLOAD_MB":         "64",
			"TEMP_DIR":              "/data/work",
			"STALE_WORK_AGE":        "15m",
			"MAX_CONCURRENT_CLIPS":  "4",
			"COMPOSITE_CANVAS":      "FIXED",
			"FFMPEG_PATH":           "/opt/ffmpeg/bin/ffmpeg",
			"FFPROBE_PATH":          "/opt/ffmpeg/bin/ffprobe",
			"S3_BUCKET":             "stitched",
			"S3_REGION":             "eu-west-1",
			"S3_ENDPOINT":           "http://localhost:4566",
			"S3_PREFIX":             "exports",
			"AWS_ACCESS_KEY_ID":     "AKIDEXAMPLE",
			"AWS_SECRET_ACCESS_KEY": "wJalrXUtnFEMI",
			"LOG_FORMAT":            "JSON",
			"LOG_LEVEL":             "Warning",
		}
		for k, v := range env {
			t.Setenv(k, v)
		}

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, &Config{
			Port:               9090,
			MaxUploadMB:        64,
			TempDir:            "/data/work",
			StaleWorkAge:       15 * time.Minute,
			MaxConcurrentClips: 4,
			CompositeCanvas:    "fixed",
			FFmpegPath:         "/opt/ffmpeg/bin/ffmpeg",
			FFprobePath:        "/opt/ffmpeg/bin/ffprobe",
			S3Bucket:           "stitched",
			S3Region:           "eu-west-1",
			S3Endpoint:         "http://localhost:4566",
			S3Prefix:           "exports",
			AWSAccessKeyID:     "AKIDEXAMPLE",
			AWSSecretAccessKey: "wJalrXUtnFEMI",
			LogFormat:          "json",
			LogLevel:           "warning",
		}, cfg)
		assert.True(t, cfg.S3Enabled())
	})

	t.Run("unparseable values", func(t *testing.T) {
		for key, value := range map[string]string{
			"PORT":           "not-a-number",
			"STALE_WORK_AGE": "an hour",
		} {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err, key)
			assert.NotErrorIs(t, err, ErrInvalidConfig, key)
		}
	})

	t.Run("out of range values", func(t *testing.T) {
		for key, value := range map[string]string{
			"COMPOSITE_CANVAS":     "stretch",
			"MAX_CONCURRENT_CLIPS": "0",
			"PORT":                 "70000",
			"LOG_FORMAT":           "xml",
			"S3_ENDPOINT":          "not a url",
		} {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalidConfig, key)
		}
	})
}

func TestConfig_S3Enabled(t *testing.T) {
	cases := map[[2]string]bool{
		{"stitched", "eu-west-1"}: true,
		{"stitched", ""}:          false,
		{"", "eu-west-1"}:         false,
		{"", ""}:                  false,
	}
	for in, want := range cases {
		cfg := &Config{S3Bucket: in[0], S3Region: in[1]}
		assert.Equal(t, want, cfg.S3Enabled(), "bucket=%q region=%q", in[0], in[1])
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing temp dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.TempDir = ""
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "TempDir")
	})

	t.Run("several errors are joined", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = 0
		cfg.LogLevel = "loud"
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "Port")
		assert.Contains(t, err.Error(), "LogLevel")
	})
}

func TestConfig_LogValue(t *testing.T) {
	cfg := validConfig()
	cfg.S3Bucket = "stitched"
	cfg.AWSAccessKeyID = "AKIDEXAMPLE"
	cfg.AWSSecretAccessKey = "wJalrXUtnFEMI"

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", slog.Any("config", cfg))

	var line struct {
		Config map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.EqualValues(t, 8080, line.Config["port"])
	assert.Equal(t, "native", line.Config["composite_canvas"])
	assert.Equal(t, "stitched", line.Config["s3_bucket"])

	assert.NotContains(t, buf.String(), "AKIDEXAMPLE")
	assert.NotContains(t, buf.String(), "wJalrXUtnFEMI")
}

func TestConfig_NewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &Config{LogFormat: "json", LogLevel: "info"}
		logger := cfg.newLogger(&buf)

		logger.Debug("hidden")
		logger.Info("stitched", slog.Int("clip", 2))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "stitched", line["msg"])
		assert.EqualValues(t, 2, line["clip"])
	})

	t.Run("text at debug", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &Config{LogFormat: "text", LogLevel: "debug"}
		cfg.newLogger(&buf).Debug("probe", slog.String("codec", "h264"))

		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "codec=h264")
	})

	t.Run("stdout", func(t *testing.T) {
		assert.NotNil(t, (&Config{}).NewLogger())
	})
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	} {
		assert.Equal(t, want, parseLogLevel(in), "input %q", in)
	}
}
