package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/maauso/panostitch/internal/audio"
	"github.com/maauso/panostitch/internal/media"
	"github.com/maauso/panostitch/internal/storage"
)

// Transformer is the set of per-clip media stages the Orchestrator drives.
type Transformer interface {
	Compose(ctx context.Context, src SourceVideo) (CompositedVideo, error)
	ExtractAudio(ctx context.Context, src SourceVideo) (AudioAsset, error)
	Mux(ctx context.Context, video CompositedVideo, track AudioAsset) (FinishedVideo, error)
	Resize(ctx context.Context, video FinishedVideo, width, height int) (ResizedVideo, error)
}

// Stages adapts the path-based media and audio components to byte buffers.
type Stages struct {
	processor media.Processor
	extractor audio.Extractor
	store     storage.Storage
	logger    *slog.Logger
}

// NewStages creates a new Stages.
func NewStages(processor media.Processor, extractor audio.Extractor, store storage.Storage, logger *slog.Logger) *Stages {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stages{
		processor: processor,
		extractor: extractor,
		store:     store,
		logger:    logger,
	}
}

// Compose stitches the top-left, top-right and bottom-left quadrants of
// every frame of src into one wide frame. The result has no audio track.
func (s *Stages) Compose(ctx context.Context, src SourceVideo) (CompositedVideo, error) {
	ext, err := media.SniffContainer(src.Data)
	if err != nil {
		return CompositedVideo{}, err
	}

	dir, err := s.store.WorkDir(ctx, "compose")
	if err != nil {
		return CompositedVideo{}, err
	}
	defer s.cleanup(ctx, dir)

	in, err := s.store.SaveTemp(ctx, dir, "source"+ext, bytes.NewReader(src.Data))
	if err != nil {
		return CompositedVideo{}, err
	}

	out := filepath.Join(dir, "composited.mp4")
	geo, err := s.processor.Compose(ctx, in, out)
	if err != nil {
		return CompositedVideo{}, err
	}

	data, err := s.load(ctx, out)
	if err != nil {
		return CompositedVideo{}, err
	}

	return CompositedVideo{
		Data:       data,
		Width:      geo.Width,
		Height:     geo.Height,
		FrameRate:  geo.FrameRate,
		FrameCount: geo.FrameCount,
	}, nil
}

// ExtractAudio writes the first audio track of src as 16-bit PCM WAV.
func (s *Stages) ExtractAudio(ctx context.Context, src SourceVideo) (AudioAsset, error) {
	ext, err := media.SniffContainer(src.Data)
	if err != nil {
		return AudioAsset{}, err
	}

	dir, err := s.store.WorkDir(ctx, "extract")
	if err != nil {
		return AudioAsset{}, err
	}
	defer s.cleanup(ctx, dir)

	in, err := s.store.SaveTemp(ctx, dir, "source"+ext, bytes.NewReader(src.Data))
	if err != nil {
		return AudioAsset{}, err
	}

	out := filepath.Join(dir, "audio.wav")
	asset, err := s.extractor.Extract(ctx, in, out)
	if err != nil {
		return AudioAsset{}, err
	}

	data, err := s.load(ctx, out)
	if err != nil {
		return AudioAsset{}, err
	}

	return AudioAsset{
		Data:       data,
		SampleRate: asset.SampleRate,
		Channels:   asset.Channels,
	}, nil
}

// Mux attaches track to video. The output is truncated to the shorter input.
func (s *Stages) Mux(ctx context.Context, video CompositedVideo, track AudioAsset) (FinishedVideo, error) {
	dir, err := s.store.WorkDir(ctx, "mux")
	if err != nil {
		return FinishedVideo{}, err
	}
	defer s.cleanup(ctx, dir)

	videoPath, err := s.store.SaveTemp(ctx, dir, "composited.mp4", bytes.NewReader(video.Data))
	if err != nil {
		return FinishedVideo{}, err
	}
	audioPath, err := s.store.SaveTemp(ctx, dir, "audio.wav", bytes.NewReader(track.Data))
	if err != nil {
		return FinishedVideo{}, err
	}

	out := filepath.Join(dir, "merged.mp4")
	if err := s.processor.Mux(ctx, videoPath, audioPath, out); err != nil {
		return FinishedVideo{}, err
	}

	data, err := s.load(ctx, out)
	if err != nil {
		return FinishedVideo{}, err
	}
	return FinishedVideo{Data: data}, nil
}

// Resize rescales video to width x height without aspect correction.
func (s *Stages) Resize(ctx context.Context, video FinishedVideo, width, height int) (ResizedVideo, error) {
	if width <= 0 || height <= 0 {
		return ResizedVideo{}, fmt.Errorf("%w: %dx%d", media.ErrInvalidDimension, width, height)
	}

	dir, err := s.store.WorkDir(ctx, "resize")
	if err != nil {
		return ResizedVideo{}, err
	}
	defer s.cleanup(ctx, dir)

	in, err := s.store.SaveTemp(ctx, dir, "finished.mp4", bytes.NewReader(video.Data))
	if err != nil {
		return ResizedVideo{}, err
	}

	out := filepath.Join(dir, "resized.mp4")
	if err := s.processor.Resize(ctx, in, out, width, height); err != nil {
		return ResizedVideo{}, err
	}

	data, err := s.load(ctx, out)
	if err != nil {
		return ResizedVideo{}, err
	}

	return ResizedVideo{
		Index:  video.Index,
		Data:   data,
		Width:  width,
		Height: height,
	}, nil
}

func (s *Stages) load(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.store.LoadTemp(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", media.ErrEncode, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", media.ErrEncode, err)
	}
	return data, nil
}

// cleanup removes a work directory even when ctx is already cancelled.
func (s *Stages) cleanup(ctx context.Context, dir string) {
	if err := s.store.CleanupTemp(context.WithoutCancel(ctx), []string{dir}); err != nil {
		s.logger.Warn("failed to remove work directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// Verify interface implementation at compile time.
var _ Transformer = (*Stages)(nil)
