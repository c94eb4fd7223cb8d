package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Info describes the streams of a probed media file.
type Info struct {
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int
	Duration   float64
	VideoCodec string

	HasAudio   bool
	AudioCodec string
	SampleRate int
	Channels   int
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RFrameRate    string `json:"r_frame_rate"`
	AvgFrameRate  string `json:"avg_frame_rate"`
	NbReadPackets string `json:"nb_read_packets"`
	NbFrames      string `json:"nb_frames"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	Duration      string `json:"duration"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// Probe reads stream metadata with ffprobe. Video packets are counted,
// so FrameCount reflects the frames actually present in the container.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-count_packets",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	}

	out, err := Run(ctx, p.ffprobePath, args)
	if err != nil {
		return Info{}, fmt.Errorf("%w: probe: %w", ErrDecode, err)
	}

	return parseProbeOutput(out)
}

// parseProbeOutput converts ffprobe JSON into Info.
func parseProbeOutput(data []byte) (Info, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(data, &ff); err != nil {
		return Info{}, fmt.Errorf("%w: parse probe output: %w", ErrDecode, err)
	}

	var info Info
	hasVideo := false

	for _, s := range ff.Streams {
		switch s.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			info.FrameRate = parseFrameRate(s.AvgFrameRate)
			if info.FrameRate == 0 {
				info.FrameRate = parseFrameRate(s.RFrameRate)
			}
			info.FrameCount = parseCount(s.NbReadPackets)
			if info.FrameCount == 0 {
				info.FrameCount = parseCount(s.NbFrames)
			}
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioCodec = s.CodecName
			info.SampleRate = parseCount(s.SampleRate)
			info.Channels = s.Channels
		}
	}

	if dur, err := strconv.ParseFloat(ff.Format.Duration, 64); err == nil {
		info.Duration = dur
	}

	if !hasVideo {
		return info, fmt.Errorf("%w: no video stream", ErrDecode)
	}

	return info, nil
}

func parseCount(s string) int {
	if s == "" || s == "N/A" {
		return 0
	}
	v, _ := strconv.Atoi(s)
	return v
}

func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}
