package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// WorkPrefix starts the name of every entry LocalStorage creates in its root.
// SweepStale only ever removes entries carrying it.
const WorkPrefix = "panostitch-"

// LocalStorage implements the Storage interface using local disk.
// Every stage invocation gets its own directory under the storage root.
// S3 uploads are not supported unless wrapped with S3Storage.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage rooted at tempDir.
// If tempDir is empty, a "panostitch" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "panostitch")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the storage root.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// WorkDir creates a directory named panostitch-<prefix>_<random> under the
// storage root.
func (s *LocalStorage) WorkDir(ctx context.Context, prefix string) (string, error) {
	if err := live(ctx); err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(s.tempDir, WorkPrefix+prefix+"_*")
	if err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	return dir, nil
}

// SaveTemp copies data into dir (the storage root when dir is empty).
// The file is named <base>_<random><ext> so the extension of name survives;
// files in the storage root also get WorkPrefix.
func (s *LocalStorage) SaveTemp(ctx context.Context, dir, name string, data io.Reader) (string, error) {
	if err := live(ctx); err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)
	if dir == "" {
		dir = s.tempDir
		base = WorkPrefix + base
	}

	f, err := os.CreateTemp(dir, base+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	_, err = io.Copy(f, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}

	return f.Name(), nil
}

// LoadTemp opens a file written by a stage. The caller closes the reader.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	return f, nil
}

// CleanupTemp removes files and work directories. Missing and empty paths
// are skipped; the first failure is returned after every path was tried.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := live(ctx); err != nil {
			return err
		}
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove temp path %s: %w", p, err)
		}
	}
	return firstErr
}

// SweepStale removes entries of the storage root named with WorkPrefix and
// last modified before olderThan ago. Work directories of a crashed process
// end up here since nothing else will ever remove them. Anything else in the
// root is left alone, so TEMP_DIR may point at a shared directory.
func (s *LocalStorage) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, fmt.Errorf("read temp directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), WorkPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(s.tempDir, e.Name()))
		}
	}

	return len(stale), s.CleanupTemp(ctx, stale)
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

func live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// Verify interface implementation at compile time.
var (
	_ Storage = (*LocalStorage)(nil)
	_ Sweeper = (*LocalStorage)(nil)
)
