package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Static errors for media operations.
var (
	// ErrDecode is returned when a source cannot be opened or yields no frames.
	ErrDecode = errors.New("decode failed")
	// ErrNoAudioTrack is returned when a source has no audio stream to extract.
	ErrNoAudioTrack = errors.New("no audio track")
	// ErrEncode is returned when writing an output with ffmpeg fails.
	ErrEncode = errors.New("encode failed")
	// ErrInvalidDimension is returned when the provided dimensions are not positive.
	ErrInvalidDimension = errors.New("invalid dimensions: width and height must be positive")
	// ErrCanvasMismatch is returned in strict canvas mode when the stitched
	// frame does not match the fixed composite canvas.
	ErrCanvasMismatch = errors.New("stitched frame does not match composite canvas")
)

// FFmpegProcessor implements Processor using the ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
	canvas      CanvasPolicy
}

// Option configures an FFmpegProcessor.
type Option func(*FFmpegProcessor)

// WithFFprobePath sets the ffprobe binary used for probing.
func WithFFprobePath(path string) Option {
	return func(p *FFmpegProcessor) {
		if path != "" {
			p.ffprobePath = path
		}
	}
}

// WithCanvasPolicy sets how the composite canvas is sized.
func WithCanvasPolicy(policy CanvasPolicy) Option {
	return func(p *FFmpegProcessor) {
		p.canvas = policy
	}
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string, opts ...Option) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	p := &FFmpegProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: "ffprobe",
		canvas:      CanvasNative,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mux attaches audioPath as the audio track of videoPath.
// Video is re-encoded to H.264 and audio to AAC. With -shortest the output
// duration is the minimum of both input durations; nothing is stretched.
func (p *FFmpegProcessor) Mux(ctx context.Context, videoPath, audioPath, dst string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		dst,
	}

	if err := p.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("%w: mux: %w", ErrEncode, err)
	}
	return nil
}

// Resize rescales src to exactly w x h and writes the result to dst.
// No aspect-ratio correction is performed; the caller picks the ratio.
func (p *FFmpegProcessor) Resize(ctx context.Context, src, dst string, w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimension, w, h)
	}

	args := []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d,setsar=1", w, h),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		dst,
	}

	if err := p.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("%w: resize: %w", ErrEncode, err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	_, err := Run(ctx, p.ffmpegPath, args)
	return err
}

// Run executes a media binary and returns its stdout. A failed run yields an
// *FFmpegError carrying stderr; a cancelled one wraps ctx.Err().
func Run(ctx context.Context, bin string, args []string) ([]byte, error) {
	// #nosec G204 - binary paths are set by the application, not user input
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s cancelled: %w", bin, ctx.Err())
		}
		return nil, &FFmpegError{
			Binary: bin,
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}

// FFmpegError represents an error from running ffmpeg or ffprobe,
// including the stderr output of the codec.
type FFmpegError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	return fmt.Sprintf("%s error: %v\nargs: %v\nstderr: %s", bin, e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Processor = (*FFmpegProcessor)(nil)
