package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maauso/panostitch/internal/media"
)

// FFmpegExtractor implements Extractor using ffmpeg CLI.
type FFmpegExtractor struct {
	ffmpegPath string
	prober     Prober
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
// The prober is used to detect whether the source has an audio track.
func NewFFmpegExtractor(ffmpegPath string, prober Prober) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegExtractor{ffmpegPath: ffmpegPath, prober: prober}
}

// Extract implements Extractor.Extract.
// The first audio stream is re-encoded to pcm_s16le; the sample rate and
// channel layout of the source are kept.
func (e *FFmpegExtractor) Extract(ctx context.Context, videoPath, wavPath string) (Asset, error) {
	info, err := e.prober.Probe(ctx, videoPath)
	if err != nil {
		return Asset{}, err
	}
	if !info.HasAudio {
		return Asset{}, fmt.Errorf("%w: %s", ErrNoAudioTrack, filepath.Base(videoPath))
	}

	if err := os.MkdirAll(filepath.Dir(wavPath), 0750); err != nil {
		return Asset{}, fmt.Errorf("create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-map", "0:a:0",
		"-c:a", SampleFormat,
		wavPath,
	}

	if _, err := media.Run(ctx, e.ffmpegPath, args); err != nil {
		return Asset{}, fmt.Errorf("%w: extract audio: %w", media.ErrEncode, err)
	}

	return Asset{
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Duration:   info.Duration,
	}, nil
}

// Verify interface implementation at compile time.
var _ Extractor = (*FFmpegExtractor)(nil)
