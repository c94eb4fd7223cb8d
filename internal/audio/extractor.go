// Package audio provides interfaces and implementations for audio track extraction.
package audio

import (
	"context"

	"github.com/maauso/panostitch/internal/media"
)

// ErrNoAudioTrack is returned when the source video has no audio stream.
var ErrNoAudioTrack = media.ErrNoAudioTrack

// SampleFormat is the fixed sample format of extracted audio.
const SampleFormat = "pcm_s16le"

// Asset describes an extracted audio file.
type Asset struct {
	// SampleRate is inherited from the source track.
	SampleRate int
	// Channels is inherited from the source track.
	Channels int
	// Duration of the source in seconds, as reported by the container.
	Duration float64
}

// Prober reads stream metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// Extractor defines the interface for demuxing the audio track of a video.
type Extractor interface {
	// Extract writes the first audio track of videoPath to wavPath as
	// 16-bit signed PCM. It returns ErrNoAudioTrack if the video has no audio.
	Extract(ctx context.Context, videoPath, wavPath string) (Asset, error)
}
