package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch is returned when a batch operation receives no clips.
	ErrEmptyBatch = errors.New("batch has no clips")
	// ErrAborted marks clips that were not started because the batch was aborted.
	ErrAborted = errors.New("batch aborted before clip started")
)

// StageError reports which stage of which clip failed.
// Err keeps the underlying cause, so errors.Is works against the
// media and audio sentinels and errors.As finds *media.FFmpegError.
type StageError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("clip %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
