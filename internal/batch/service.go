package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/maauso/panostitch/internal/archive"
	"github.com/maauso/panostitch/internal/pipeline"
	"github.com/maauso/panostitch/internal/storage"
)

var (
	// ErrBusy is returned when a batch is already converting or archiving.
	ErrBusy = errors.New("batch is busy")
	// ErrNotRunning is returned by Abort when no convert run is in progress.
	ErrNotRunning = errors.New("batch is not converting")
	// ErrNotConverted is returned when an archive is requested before any clip was converted.
	ErrNotConverted = errors.New("batch has no converted clips")
)

// Pipeline runs the media stages for a batch.
type Pipeline interface {
	Convert(ctx context.Context, sources []pipeline.SourceVideo, observe pipeline.Observer) ([]pipeline.ClipResult, error)
	ResizeAll(ctx context.Context, videos []pipeline.FinishedVideo, preset pipeline.Preset, observe pipeline.Observer) ([]pipeline.ResizedVideo, []*pipeline.StageError, error)
}

// CreateInput contains the input parameters for a new batch.
type CreateInput struct {
	// Uploads are the clips in upload order.
	Uploads []Upload
	// Replaces is the ID of a previous batch to end. Optional.
	Replaces string
}

// ArchiveInput contains the parameters of a resize+archive request.
type ArchiveInput struct {
	// Preset is the target resolution.
	Preset pipeline.Preset
	// PushToS3 uploads the archive instead of returning its bytes.
	PushToS3 bool
}

// ClipFailure describes a clip that was left out of an archive.
type ClipFailure struct {
	Index int
	Stage string
	Error string
}

// ArchiveOutput contains the result of a resize+archive request.
type ArchiveOutput struct {
	// Name is the archive download name.
	Name string
	// Data holds the zip bytes when the archive was not pushed to S3.
	Data []byte
	// URL is the S3 object URL when the archive was pushed.
	URL string
	// Entries lists the stored file names.
	Entries []string
	// Failed lists the clips excluded from the archive.
	Failed []ClipFailure
}

// Service orchestrates batch sessions: upload, convert, abort, archive and download.
type Service struct {
	repo     Repository
	pipeline Pipeline
	store    storage.Storage
	broker   *Broker
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new Service.
func NewService(repo Repository, pipe Pipeline, store storage.Storage, broker *Broker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if broker == nil {
		broker = NewBroker()
	}
	return &Service{
		repo:     repo,
		pipeline: pipe,
		store:    store,
		broker:   broker,
		logger:   logger,
		running:  make(map[string]context.CancelFunc),
	}
}

// Create stores a new batch in UPLOADED status.
// If input.Replaces names an existing batch, that batch is ended first.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Session, error) {
	session, err := New(input.Uploads)
	if err != nil {
		return nil, err
	}

	if input.Replaces != "" {
		if err := s.Delete(ctx, input.Replaces); err != nil && !errors.Is(err, ErrBatchNotFound) {
			return nil, fmt.Errorf("end replaced batch: %w", err)
		}
	}

	s.logger.Info("creating new batch",
		slog.String("batch_id", session.ID),
		slog.Int("clips", len(session.Clips)),
		slog.String("replaces", input.Replaces),
	)

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.Error("failed to save batch",
			slog.String("batch_id", session.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return session.Clone(), nil
}

// Get retrieves a batch by ID.
func (s *Service) Get(ctx context.Context, batchID string) (*Session, error) {
	return s.repo.FindByID(ctx, batchID)
}

// List returns all batches.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.repo.List(ctx)
}

// Convert runs the convert stages for every clip that is not merged yet and
// blocks until the run ends. Cancelling ctx aborts clips that have not started.
func (s *Service) Convert(ctx context.Context, batchID string) (*Session, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, pending, err := s.beginConvert(ctx, batchID, cancel)
	if err != nil {
		return nil, err
	}
	defer s.release(batchID)

	return s.runConvert(runCtx, session, pending), nil
}

// StartConvert begins a convert run in the background and returns the batch
// in CONVERTING status. The run outlives ctx; use Abort to stop it.
func (s *Service) StartConvert(ctx context.Context, batchID string) (*Session, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	session, pending, err := s.beginConvert(ctx, batchID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	snapshot := session.Clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(batchID)
		defer cancel()
		s.runConvert(runCtx, session, pending)
	}()

	return snapshot, nil
}

// beginConvert reserves the batch for a run and moves it to CONVERTING.
func (s *Service) beginConvert(ctx context.Context, batchID string, cancel context.CancelFunc) (*Session, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.running[batchID]; busy {
		return nil, nil, ErrBusy
	}

	session, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	pending, err := session.StartConvert()
	if err != nil {
		return nil, nil, fmt.Errorf("start convert from %s: %w", session.GetStatus(), err)
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, nil, err
	}

	s.running[batchID] = cancel
	return session, pending, nil
}

// reserve marks an idle batch as busy with cancel as its abort hook.
func (s *Service) reserve(ctx context.Context, batchID string, cancel context.CancelFunc) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.running[batchID]; busy {
		return nil, ErrBusy
	}
	session, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if session.IsConverting() {
		return nil, ErrBusy
	}
	s.running[batchID] = cancel
	return session, nil
}

func (s *Service) release(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, batchID)
}

func (s *Service) runConvert(ctx context.Context, session *Session, pending []int) *Session {
	start := time.Now()
	logger := s.logger.With(slog.String("batch_id", session.ID))
	logger.Info("convert started", slog.Int("pending_clips", len(pending)))
	s.publish(session, -1, "", "")

	sources := make([]pipeline.SourceVideo, 0, len(pending))
	for _, i := range pending {
		c, err := session.Clip(i)
		if err != nil {
			continue
		}
		sources = append(sources, pipeline.SourceVideo{Index: c.Index, Name: c.Name, Data: c.Source})
	}

	observe := func(ev pipeline.Event) {
		if ev.Err != nil {
			stage, msg := failureOf(ev.Err)
			_ = session.FailClip(ev.Index, stage, msg)
			s.persist(session)
			s.publish(session, ev.Index, string(ev.Stage), msg)
			return
		}
		_ = session.AdvanceClip(ev.Index, clipStageAfter(ev.Stage))
		s.persist(session)
		s.publish(session, ev.Index, string(ev.Stage), "")
	}

	if len(sources) > 0 {
		results, err := s.pipeline.Convert(ctx, sources, observe)
		if err != nil {
			logger.Error("convert failed", slog.String("error", err.Error()))
		}
		for _, r := range results {
			switch {
			case r.Err == nil:
				_ = session.CompleteClip(r.Index, r.Video.Data)
			case errors.Is(r.Err, pipeline.ErrAborted):
				// Not started; stays UPLOADED for the next run.
			default:
				stage, msg := failureOf(r.Err)
				_ = session.FailClip(r.Index, stage, msg)
			}
		}
	}

	if err := session.FinishConvert(); err != nil {
		logger.Error("failed to finish convert", slog.String("error", err.Error()))
	}
	s.persist(session)
	s.publish(session, -1, "", session.Clone().Error)

	logger.Info("convert finished",
		slog.String("status", string(session.GetStatus())),
		slog.Int("merged", len(session.MergedClips())),
		slog.Duration("elapsed", time.Since(start)),
	)
	return session.Clone()
}

// Abort stops clips of a running convert that have not started yet.
// Clips already in flight finish normally.
func (s *Service) Abort(ctx context.Context, batchID string) error {
	s.mu.Lock()
	cancel, ok := s.running[batchID]
	s.mu.Unlock()

	if !ok {
		if _, err := s.repo.FindByID(ctx, batchID); err != nil {
			return err
		}
		return ErrNotRunning
	}

	s.logger.Info("aborting convert", slog.String("batch_id", batchID))
	cancel()
	return nil
}

// Archive resizes every converted clip to input.Preset and packages them.
// Clips that fail to resize are excluded from the archive and listed in
// ArchiveOutput.Failed; the archive still holds every other clip.
// The batch is reserved while the archive is built: Convert and another
// Archive get ErrBusy, Abort and Delete cancel the resize.
func (s *Service) Archive(ctx context.Context, batchID string, input ArchiveInput) (*ArchiveOutput, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := s.reserve(ctx, batchID, cancel)
	if err != nil {
		return nil, err
	}
	defer s.release(batchID)

	merged := session.MergedClips()
	if len(merged) == 0 {
		return nil, ErrNotConverted
	}

	videos := make([]pipeline.FinishedVideo, len(merged))
	for i, c := range merged {
		videos[i] = pipeline.FinishedVideo{Index: c.Index, Data: c.Output}
	}

	observe := func(ev pipeline.Event) {
		msg := ""
		if ev.Err != nil {
			_, msg = failureOf(ev.Err)
		}
		s.publish(session, ev.Index, string(ev.Stage), msg)
	}

	resized, stageErrs, err := s.pipeline.ResizeAll(ctx, videos, input.Preset, observe)
	if err != nil {
		return nil, err
	}

	out := &ArchiveOutput{Name: input.Preset.ArchiveName()}
	failedIdx := make([]int, 0, len(stageErrs))
	for _, se := range stageErrs {
		stage, msg := failureOf(se)
		out.Failed = append(out.Failed, ClipFailure{Index: se.Index, Stage: stage, Error: msg})
		failedIdx = append(failedIdx, se.Index)
	}

	if len(resized) == 0 {
		return out, fmt.Errorf("%w: no clip could be resized", archive.ErrArchive)
	}

	entries := make([]archive.Entry, len(resized))
	for i, r := range resized {
		entries[i] = archive.Entry{Index: r.Index, Data: r.Data}
	}
	bundle, err := archive.BuildIndexed(entries)
	if err != nil {
		return out, err
	}
	out.Entries = bundle.Entries

	if input.PushToS3 {
		key := path.Join("batches", batchID, out.Name)
		url, err := s.store.UploadToS3(ctx, key, bytes.NewReader(bundle.Data))
		if err != nil {
			return out, err
		}
		out.URL = url
	} else {
		out.Data = bundle.Data
	}

	s.recordArchive(ctx, batchID, Archive{
		Preset:  string(input.Preset),
		Name:    out.Name,
		Entries: len(bundle.Entries),
		Failed:  failedIdx,
		URL:     out.URL,
	})

	s.logger.Info("archive built",
		slog.String("batch_id", batchID),
		slog.String("preset", string(input.Preset)),
		slog.Int("entries", len(bundle.Entries)),
		slog.Int("failed", len(out.Failed)),
		slog.Bool("pushed_to_s3", input.PushToS3),
	)

	return out, nil
}

// recordArchive appends a to the latest stored version of the batch.
func (s *Service) recordArchive(ctx context.Context, batchID string, a Archive) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		return
	}
	if err := session.AddArchive(a); err != nil {
		s.logger.Warn("archive not recorded",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = s.repo.Save(ctx, session)
	s.publish(session, -1, "", "")
}

// Video returns the finished video of clip n (1-based) and its download name.
func (s *Service) Video(ctx context.Context, batchID string, n int) (string, []byte, error) {
	session, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		return "", nil, err
	}
	if n < 1 {
		return "", nil, ErrClipNotFound
	}

	data, err := session.Output(n - 1)
	if err != nil {
		return "", nil, err
	}
	return pipeline.ConvertedName(n - 1), data, nil
}

// Delete ends a batch session. A running convert is aborted and its
// remaining updates are discarded.
func (s *Service) Delete(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, batchID); err != nil {
		return err
	}
	if cancel, ok := s.running[batchID]; ok {
		cancel()
	}
	s.broker.Close(batchID)

	s.logger.Info("batch deleted", slog.String("batch_id", batchID))
	return nil
}

// Subscribe returns progress events for a batch until cancel is called or
// the batch is deleted. It holds the service lock so a concurrent Delete
// either fails the subscription or closes it.
func (s *Service) Subscribe(ctx context.Context, batchID string) (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.FindByID(ctx, batchID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.broker.Subscribe(batchID)
	return ch, cancel, nil
}

// Shutdown aborts every running convert, waits for in-flight clips and ends
// all sessions. It returns ctx.Err() if ctx expires first.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	sessions, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		_ = s.Delete(ctx, session.ID)
	}
	return nil
}

// persist saves session unless it was deleted meanwhile.
func (s *Service) persist(session *Session) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.FindByID(ctx, session.ID); err != nil {
		return
	}
	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.Error("failed to save batch",
			slog.String("batch_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publish(session *Session, clip int, stage, errMsg string) {
	ev := Event{
		BatchID: session.ID,
		Clip:    clip,
		Stage:   stage,
		Status:  session.GetStatus(),
		Error:   errMsg,
	}
	if c, err := session.Clip(clip); err == nil {
		ev.ClipStage = c.Stage
	}
	s.broker.Publish(ev)
}

// failureOf splits a pipeline error into the failed stage and its cause.
func failureOf(err error) (string, string) {
	var serr *pipeline.StageError
	if errors.As(err, &serr) {
		return string(serr.Stage), serr.Err.Error()
	}
	return "", err.Error()
}

func clipStageAfter(stage pipeline.Stage) ClipStage {
	switch stage {
	case pipeline.StageCompose:
		return ClipComposed
	case pipeline.StageExtractAudio:
		return ClipAudioExtracted
	default:
		return ClipMerged
	}
}
