// Package batch provides the Session aggregate for a batch of uploaded clips.
// It includes the Session entity with its state machine, the per-clip stage
// tracking, repository interfaces for persistence and the Service use case
// that drives the stitching pipeline.
package batch

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/panostitch/internal/batch/id"
)

// Status represents the current state of a Session.
type Status string

const (
	// StatusUploaded indicates the clips are held and nothing has been converted yet.
	StatusUploaded Status = "UPLOADED"
	// StatusConverting indicates a convert run is in progress.
	StatusConverting Status = "CONVERTING"
	// StatusMerged indicates at least one clip has a finished video.
	StatusMerged Status = "MERGED"
	// StatusFailed indicates the last convert run produced no finished video.
	StatusFailed Status = "FAILED"
	// StatusArchived indicates at least one resized archive was built.
	StatusArchived Status = "ARCHIVED"
)

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNoClips is returned when a session is created without clips.
	ErrNoClips = errors.New("batch has no clips")
	// ErrClipNotFound is returned for an out-of-range clip index.
	ErrClipNotFound = errors.New("clip not found")
	// ErrClipNotReady is returned when a clip has no finished video yet.
	ErrClipNotReady = errors.New("clip not converted")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusUploaded:   {StatusConverting},
	StatusConverting: {StatusMerged, StatusFailed, StatusUploaded},
	StatusMerged:     {StatusConverting, StatusArchived},
	StatusFailed:     {StatusConverting},
	StatusArchived:   {StatusConverting, StatusArchived},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ClipStage is the furthest pipeline step a clip has completed.
type ClipStage string

const (
	// ClipUploaded indicates the clip is waiting to be converted.
	ClipUploaded ClipStage = "UPLOADED"
	// ClipComposed indicates the stitched video exists.
	ClipComposed ClipStage = "COMPOSED"
	// ClipAudioExtracted indicates the audio track was extracted.
	ClipAudioExtracted ClipStage = "AUDIO_EXTRACTED"
	// ClipMerged indicates the finished video exists.
	ClipMerged ClipStage = "MERGED"
	// ClipFailed indicates the last convert run failed for this clip.
	ClipFailed ClipStage = "FAILED"
)

// Upload is one clip as received from the client.
type Upload struct {
	Name string
	Data []byte
}

// Clip tracks one uploaded clip through the pipeline.
type Clip struct {
	// Index is the zero-based position of the clip in the batch.
	Index int
	// Name is the original upload file name.
	Name string
	// Stage is the furthest completed step.
	Stage ClipStage
	// FailedStage names the pipeline stage that failed, if any.
	FailedStage string
	// Error contains the failure message of the last run.
	Error string
	// Source is the uploaded clip.
	Source []byte
	// Output is the finished video once Stage is ClipMerged.
	Output []byte
	// UpdatedAt is when the clip last changed.
	UpdatedAt time.Time
}

// Archive records one resize+archive request.
type Archive struct {
	// Preset is the target resolution, e.g. "2880x540".
	Preset string
	// Name is the archive download name.
	Name string
	// Entries is the number of clips stored.
	Entries int
	// Failed lists the clip indexes that were excluded.
	Failed []int
	// URL is set when the archive was pushed to S3.
	URL string
	// CreatedAt is when the archive was built.
	CreatedAt time.Time
}

// Session is the aggregate for one batch of clips.
type Session struct {
	mu sync.RWMutex

	// ID is the unique identifier for this batch.
	ID string
	// Status is the current batch state.
	Status Status
	// Clips holds the uploaded clips in upload order.
	Clips []Clip
	// Archives lists the archives built for this batch.
	Archives []Archive
	// Error contains a batch-level error message, if any.
	Error string
	// CreatedAt is when the batch was uploaded.
	CreatedAt time.Time
	// UpdatedAt is when the batch was last updated.
	UpdatedAt time.Time
	// StartedAt is when the last convert run started.
	StartedAt time.Time
	// CompletedAt is when the last convert run finished.
	CompletedAt time.Time
}

// New creates a new Session with a generated ID in UPLOADED status.
// Returns ErrNoClips if uploads is empty.
func New(uploads []Upload) (*Session, error) {
	return NewWithID(id.Generate(), uploads)
}

// NewWithID creates a new Session with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(batchID string, uploads []Upload) (*Session, error) {
	if len(uploads) == 0 {
		return nil, ErrNoClips
	}

	now := time.Now()
	clips := make([]Clip, len(uploads))
	for i, u := range uploads {
		clips[i] = Clip{
			Index:     i,
			Name:      u.Name,
			Stage:     ClipUploaded,
			Source:    u.Data,
			UpdatedAt: now,
		}
	}

	return &Session{
		ID:        batchID,
		Status:    StatusUploaded,
		Clips:     clips,
		Archives:  make([]Archive, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TransitionTo attempts to change the batch status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (s *Session) TransitionTo(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(status)
}

func (s *Session) transitionLocked(status Status) error {
	if !canTransition(s.Status, status) {
		return ErrInvalidTransition
	}

	s.Status = status
	s.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusConverting:
		s.StartedAt = s.UpdatedAt
		s.CompletedAt = time.Time{}
	case StatusMerged, StatusFailed:
		s.CompletedAt = s.UpdatedAt
	}

	return nil
}

// StartConvert moves the batch to CONVERTING and returns the indexes of the
// clips that still need converting. Previously failed clips are reset.
// Merged clips are never converted again.
func (s *Session) StartConvert() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(StatusConverting); err != nil {
		return nil, err
	}

	s.Error = ""
	pending := make([]int, 0, len(s.Clips))
	for i := range s.Clips {
		c := &s.Clips[i]
		if c.Stage == ClipMerged {
			continue
		}
		c.Stage = ClipUploaded
		c.FailedStage = ""
		c.Error = ""
		c.UpdatedAt = s.UpdatedAt
		pending = append(pending, i)
	}
	return pending, nil
}

// AdvanceClip records that a clip completed stage.
func (s *Session) AdvanceClip(index int, stage ClipStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.clipLocked(index)
	if err != nil {
		return err
	}
	c.Stage = stage
	c.UpdatedAt = time.Now()
	s.UpdatedAt = c.UpdatedAt
	return nil
}

// CompleteClip stores the finished video of a clip.
func (s *Session) CompleteClip(index int, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.clipLocked(index)
	if err != nil {
		return err
	}
	c.Stage = ClipMerged
	c.Output = output
	c.FailedStage = ""
	c.Error = ""
	c.UpdatedAt = time.Now()
	s.UpdatedAt = c.UpdatedAt
	return nil
}

// FailClip marks a clip failed at the given pipeline stage.
func (s *Session) FailClip(index int, stage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.clipLocked(index)
	if err != nil {
		return err
	}
	c.Stage = ClipFailed
	c.FailedStage = stage
	c.Error = errMsg
	c.Output = nil
	c.UpdatedAt = time.Now()
	s.UpdatedAt = c.UpdatedAt
	return nil
}

// FinishConvert ends a convert run. The batch becomes MERGED if any clip has
// a finished video, FAILED if none has and at least one failed, and
// UPLOADED again if the run was aborted before any clip ran.
func (s *Session) FinishConvert() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, failed := 0, 0
	for _, c := range s.Clips {
		switch c.Stage {
		case ClipMerged:
			merged++
		case ClipFailed:
			failed++
		}
	}

	switch {
	case merged > 0:
		return s.transitionLocked(StatusMerged)
	case failed > 0:
		s.Error = "no clip could be converted"
		return s.transitionLocked(StatusFailed)
	default:
		return s.transitionLocked(StatusUploaded)
	}
}

// AddArchive records an archive and moves the batch to ARCHIVED.
func (s *Session) AddArchive(a Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusArchived); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.UpdatedAt
	}
	s.Archives = append(s.Archives, a)
	return nil
}

// Output returns the finished video of the clip at index.
func (s *Session) Output(index int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.Clips) {
		return nil, ErrClipNotFound
	}
	c := s.Clips[index]
	if c.Stage != ClipMerged || len(c.Output) == 0 {
		return nil, ErrClipNotReady
	}
	return c.Output, nil
}

// MergedClips returns the clips that have a finished video, in index order.
func (s *Session) MergedClips() []Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Clip, 0, len(s.Clips))
	for _, c := range s.Clips {
		if c.Stage == ClipMerged && len(c.Output) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Clip returns a copy of the clip at index.
func (s *Session) Clip(index int) (Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.Clips) {
		return Clip{}, ErrClipNotFound
	}
	return s.Clips[index], nil
}

// GetStatus returns the current batch status (thread-safe).
func (s *Session) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// IsConverting returns true while a convert run is in progress.
func (s *Session) IsConverting() bool {
	return s.GetStatus() == StatusConverting
}

func (s *Session) clipLocked(index int) (*Clip, error) {
	if index < 0 || index >= len(s.Clips) {
		return nil, ErrClipNotFound
	}
	return &s.Clips[index], nil
}

// Clone creates a deep copy of the session for safe reads.
// Clip byte buffers are shared; they are never modified in place.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clips := make([]Clip, len(s.Clips))
	copy(clips, s.Clips)

	archives := make([]Archive, len(s.Archives))
	for i, a := range s.Archives {
		a.Failed = append([]int(nil), a.Failed...)
		archives[i] = a
	}

	return &Session{
		ID:          s.ID,
		Status:      s.Status,
		Clips:       clips,
		Archives:    archives,
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}
