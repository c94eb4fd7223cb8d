// Package storage provides temporary and persistent file storage capabilities.
// It defines the Storage interface (port) used by the pipeline stages and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines the interface for temporary and persistent file storage.
// Implementations must handle temporary files during processing and
// optionally support S3 uploads for finished archives.
type Storage interface {
	// WorkDir creates a fresh scratch directory for one stage invocation.
	// The prefix is used as a hint for the directory name.
	WorkDir(ctx context.Context, prefix string) (dir string, err error)

	// SaveTemp saves data to a temporary file inside dir and returns the file path.
	// The name parameter is used as a hint for the filename; its extension is kept
	// so that ffmpeg can pick the right demuxer. An empty dir means the storage root.
	SaveTemp(ctx context.Context, dir, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files or directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the object URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// Sweeper is implemented by storages that can drop work directories left
// behind by an earlier process.
type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (removed int, err error)
}
