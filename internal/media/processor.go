// Package media provides the video transforms of the stitching pipeline.
package media

import "context"

// Processor defines the file-level video operations used by the pipeline.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// Probe reads stream metadata from a media file.
	// Unreadable input and files without a video stream fail with ErrDecode.
	Probe(ctx context.Context, path string) (Info, error)

	// Compose splits every frame of src into quadrants and writes the
	// top-left, top-right and bottom-left quadrants side by side to dst.
	// The bottom-right quadrant is discarded. The output has no audio track
	// and keeps the source frame rate and frame count.
	Compose(ctx context.Context, src, dst string) (Geometry, error)

	// Mux attaches the audio file as the audio track of the video file,
	// re-encoding to H.264/AAC. The result is truncated to the shorter input.
	Mux(ctx context.Context, videoPath, audioPath, dst string) error

	// Resize rescales the video to exactly w x h without aspect correction.
	// Audio is re-encoded to AAC.
	Resize(ctx context.Context, src, dst string, w, h int) error
}
