// Package pipeline sequences the per-clip media stages of a batch.
//
// Stages operate on byte buffers; every call materializes its inputs in a
// scoped work directory that is removed before the call returns. The
// Orchestrator runs the convert sub-pipeline (compose, extract audio, mux)
// for every clip on a bounded worker pool and gathers results by index.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names one step of the per-clip pipeline.
type Stage string

const (
	// StageCompose stitches three frame quadrants into one wide frame.
	StageCompose Stage = "compose"
	// StageExtractAudio demuxes the source audio track to PCM.
	StageExtractAudio Stage = "extract_audio"
	// StageMux attaches the extracted audio to the composited video.
	StageMux Stage = "mux"
	// StageResize rescales a finished video.
	StageResize Stage = "resize"
)

// SourceVideo is one uploaded clip, as-is.
type SourceVideo struct {
	// Index is the zero-based position of the clip in its batch.
	Index int
	// Name is the original upload file name. Informational only.
	Name string
	Data []byte
}

// CompositedVideo is the stitched video stream of one clip, without audio.
type CompositedVideo struct {
	Data       []byte
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int
}

// AudioAsset is the audio track of one clip as 16-bit signed PCM in WAV.
type AudioAsset struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// FinishedVideo is a composited clip with its audio (H.264 + AAC in MP4).
type FinishedVideo struct {
	Index int
	Data  []byte
}

// ResizedVideo is a FinishedVideo rescaled to a target resolution.
type ResizedVideo struct {
	Index  int
	Data   []byte
	Width  int
	Height int
}

// ConvertedName returns the download name of a finished clip.
// Download names are 1-based.
func ConvertedName(index int) string {
	return fmt.Sprintf("converted_video_%d.mp4", index+1)
}

// ErrUnknownPreset is returned by ParsePreset for unsupported resolutions.
var ErrUnknownPreset = errors.New("unknown resize preset")

// Preset is one of the supported batch resize resolutions.
type Preset string

const (
	// Preset2880x540 is half the composite canvas.
	Preset2880x540 Preset = "2880x540"
	// Preset1920x360 is a third of the composite canvas.
	Preset1920x360 Preset = "1920x360"
)

// ParsePreset converts a "WxH" string into a Preset.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
	}
	return p, nil
}

// IsValid returns true if p is a supported preset.
func (p Preset) IsValid() bool {
	return p == Preset2880x540 || p == Preset1920x360
}

// Dimensions returns the target width and height of p.
// It returns zeros for an invalid preset.
func (p Preset) Dimensions() (width, height int) {
	switch p {
	case Preset2880x540:
		return 2880, 540
	case Preset1920x360:
		return 1920, 360
	default:
		return 0, 0
	}
}

// ArchiveName returns the download name of an archive built with p.
func (p Preset) ArchiveName() string {
	return "resized_videos_" + string(p) + ".zip"
}
