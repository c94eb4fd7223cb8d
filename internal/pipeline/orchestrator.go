package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maauso/panostitch/internal/media"
)

// DefaultWorkers is the pool size used when NewOrchestrator gets a non-positive value.
const DefaultWorkers = 2

// Event reports the outcome of one stage for one clip.
// Err is nil when the stage succeeded.
type Event struct {
	Index int
	Stage Stage
	Err   error
}

// Observer receives stage events. It is called from worker goroutines and
// must be safe for concurrent use.
type Observer func(Event)

// ClipResult is the outcome of converting one clip.
type ClipResult struct {
	Index int
	Video FinishedVideo
	// Err is a *StageError when a stage failed, or ErrAborted when the
	// clip was never started.
	Err error
}

// Orchestrator runs per-clip sub-pipelines across a batch.
type Orchestrator struct {
	stages  Transformer
	workers int
	logger  *slog.Logger
}

// NewOrchestrator creates a new Orchestrator running at most workers clips at once.
func NewOrchestrator(stages Transformer, workers int, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stages:  stages,
		workers: workers,
		logger:  logger,
	}
}

// Convert composes every source, extracts its audio and muxes the two.
//
// Result i always belongs to sources[i]. A failing clip does not stop the
// others. Cancelling ctx prevents clips that have not started yet from
// running; clips already in flight run to completion on a detached context.
func (o *Orchestrator) Convert(ctx context.Context, sources []SourceVideo, observe Observer) ([]ClipResult, error) {
	if len(sources) == 0 {
		return nil, ErrEmptyBatch
	}

	start := time.Now()
	o.logger.Info("converting batch",
		slog.Int("clips", len(sources)),
		slog.Int("workers", o.workers),
	)

	results := runPool(ctx, o.workers, sources,
		func(ctx context.Context, src SourceVideo) ClipResult {
			return o.convertClip(ctx, src, observe)
		},
		func(src SourceVideo) ClipResult {
			return ClipResult{Index: src.Index, Err: ErrAborted}
		},
	)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	o.logger.Info("batch converted",
		slog.Int("clips", len(sources)),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(start)),
	)

	return results, nil
}

func (o *Orchestrator) convertClip(ctx context.Context, src SourceVideo, observe Observer) ClipResult {
	fail := func(stage Stage, err error) ClipResult {
		serr := &StageError{Index: src.Index, Stage: stage, Err: err}
		o.logger.Warn("clip failed",
			slog.Int("clip", src.Index),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
		emit(observe, Event{Index: src.Index, Stage: stage, Err: serr})
		return ClipResult{Index: src.Index, Err: serr}
	}

	composited, err := o.stages.Compose(ctx, src)
	if err != nil {
		return fail(StageCompose, err)
	}
	emit(observe, Event{Index: src.Index, Stage: StageCompose})

	track, err := o.stages.ExtractAudio(ctx, src)
	if err != nil {
		return fail(StageExtractAudio, err)
	}
	emit(observe, Event{Index: src.Index, Stage: StageExtractAudio})

	finished, err := o.stages.Mux(ctx, composited, track)
	if err != nil {
		return fail(StageMux, err)
	}
	finished.Index = src.Index
	emit(observe, Event{Index: src.Index, Stage: StageMux})

	o.logger.Debug("clip converted",
		slog.Int("clip", src.Index),
		slog.Int("width", composited.Width),
		slog.Int("height", composited.Height),
		slog.Int("frames", composited.FrameCount),
	)

	return ClipResult{Index: src.Index, Video: finished}
}

// ResizeAll rescales every video to preset. It operates only on already
// finished clips and never re-runs the convert stages.
//
// The returned videos are ordered by clip index and contain only the clips
// that resized successfully; every other clip is reported in the returned
// StageErrors, also ordered by index.
func (o *Orchestrator) ResizeAll(ctx context.Context, videos []FinishedVideo, preset Preset, observe Observer) ([]ResizedVideo, []*StageError, error) {
	if !preset.IsValid() {
		return nil, nil, fmt.Errorf("%w: %w: %q", media.ErrInvalidDimension, ErrUnknownPreset, preset)
	}
	if len(videos) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	width, height := preset.Dimensions()

	type outcome struct {
		video ResizedVideo
		err   *StageError
	}

	outcomes := runPool(ctx, o.workers, videos,
		func(ctx context.Context, v FinishedVideo) outcome {
			resized, err := o.stages.Resize(ctx, v, width, height)
			if err != nil {
				serr := &StageError{Index: v.Index, Stage: StageResize, Err: err}
				o.logger.Warn("clip resize failed",
					slog.Int("clip", v.Index),
					slog.String("preset", string(preset)),
					slog.String("error", err.Error()),
				)
				emit(observe, Event{Index: v.Index, Stage: StageResize, Err: serr})
				return outcome{err: serr}
			}
			resized.Index = v.Index
			emit(observe, Event{Index: v.Index, Stage: StageResize})
			return outcome{video: resized}
		},
		func(v FinishedVideo) outcome {
			return outcome{err: &StageError{Index: v.Index, Stage: StageResize, Err: ErrAborted}}
		},
	)

	var resized []ResizedVideo
	var failures []*StageError
	for _, oc := range outcomes {
		if oc.err != nil {
			failures = append(failures, oc.err)
			continue
		}
		resized = append(resized, oc.video)
	}

	sort.SliceStable(resized, func(i, j int) bool { return resized[i].Index < resized[j].Index })
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })

	return resized, failures, nil
}

// runPool applies fn to every item on at most workers goroutines and returns
// the results in item order. Items that were not handed to a worker before
// ctx was cancelled get skipped(item) instead. Work already started runs on
// a context that is not cancelled with ctx.
func runPool[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R, skipped func(T) R) []R {
	type task struct {
		pos  int
		item T
	}
	type tagged struct {
		pos    int
		result R
	}

	if workers > len(items) {
		workers = len(items)
	}

	tasks := make(chan task)
	done := make(chan tagged, len(items))
	detached := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				if ctx.Err() != nil {
					done <- tagged{pos: t.pos, result: skipped(t.item)}
					continue
				}
				done <- tagged{pos: t.pos, result: fn(detached, t.item)}
			}
		}()
	}

feed:
	for i, item := range items {
		select {
		case <-ctx.Done():
			for j := i; j < len(items); j++ {
				done <- tagged{pos: j, result: skipped(items[j])}
			}
			break feed
		case tasks <- task{pos: i, item: item}:
		}
	}
	close(tasks)
	wg.Wait()
	close(done)

	results := make([]R, len(items))
	for t := range done {
		results[t.pos] = t.result
	}
	return results
}

func emit(observe Observer, ev Event) {
	if observe != nil {
		observe(ev)
	}
}
