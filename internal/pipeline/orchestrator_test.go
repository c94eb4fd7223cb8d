package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/panostitch/internal/audio"
	"github.com/maauso/panostitch/internal/media"
)

// mockTransformer implements Transformer for testing.
type mockTransformer struct {
	mock.Mock
}

func (m *mockTransformer) Compose(ctx context.Context, src SourceVideo) (CompositedVideo, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(CompositedVideo), args.Error(1)
}

func (m *mockTransformer) ExtractAudio(ctx context.Context, src SourceVideo) (AudioAsset, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(AudioAsset), args.Error(1)
}

func (m *mockTransformer) Mux(ctx context.Context, video CompositedVideo, track AudioAsset) (FinishedVideo, error) {
	args := m.Called(ctx, video, track)
	return args.Get(0).(FinishedVideo), args.Error(1)
}

func (m *mockTransformer) Resize(ctx context.Context, video FinishedVideo, width, height int) (ResizedVideo, error) {
	args := m.Called(ctx, video, width, height)
	return args.Get(0).(ResizedVideo), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sourceAt(i int) SourceVideo {
	return SourceVideo{Index: i, Name: fmt.Sprintf("clip%d.mp4", i), Data: []byte(fmt.Sprintf("src-%d", i))}
}

func byIndex(i int) interface{} {
	return mock.MatchedBy(func(s SourceVideo) bool { return s.Index == i })
}

func videoFor(i int) interface{} {
	return mock.MatchedBy(func(v CompositedVideo) bool { return string(v.Data) == fmt.Sprintf("vid-%d", i) })
}

// expectClip wires a successful convert for clip i. delay slows down its compose step.
func expectClip(m *mockTransformer, i int, delay time.Duration) {
	m.On("Compose", mock.Anything, byIndex(i)).
		After(delay).
		Return(CompositedVideo{Data: []byte(fmt.Sprintf("vid-%d", i)), Width: 960, Height: 240}, nil)
	m.On("ExtractAudio", mock.Anything, byIndex(i)).
		Return(AudioAsset{Data: []byte(fmt.Sprintf("aud-%d", i)), SampleRate: 48000}, nil)
	m.On("Mux", mock.Anything, videoFor(i), mock.Anything).
		Return(FinishedVideo{Data: []byte(fmt.Sprintf("out-%d", i))}, nil)
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	o := NewOrchestrator(&mockTransformer{}, 0, nil)
	assert.Equal(t, DefaultWorkers, o.workers)
	assert.NotNil(t, o.logger)
}

func TestConvert_EmptyBatch(t *testing.T) {
	o := NewOrchestrator(&mockTransformer{}, 2, testLogger())
	_, err := o.Convert(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestConvert_PreservesOrder(t *testing.T) {
	const n = 6
	m := &mockTransformer{}
	sources := make([]SourceVideo, n)
	for i := 0; i < n; i++ {
		sources[i] = sourceAt(i)
		// Earlier clips are slower so completion order is reversed.
		expectClip(m, i, time.Duration(n-i)*10*time.Millisecond)
	}

	o := NewOrchestrator(m, 3, testLogger())
	results, err := o.Convert(context.Background(), sources, nil)
	require.NoError(t, err)
	require.Len(t, results, n)

	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i, r.Video.Index)
		assert.Equal(t, fmt.Sprintf("out-%d", i), string(r.Video.Data))
	}
	m.AssertExpectations(t)
}

func TestConvert_FailureIsolation(t *testing.T) {
	m := &mockTransformer{}
	expectClip(m, 0, 0)
	expectClip(m, 2, 0)

	m.On("Compose", mock.Anything, byIndex(1)).
		Return(CompositedVideo{Data: []byte("vid-1")}, nil)
	m.On("ExtractAudio", mock.Anything, byIndex(1)).
		Return(AudioAsset{}, fmt.Errorf("%w: clip1.mp4", audio.ErrNoAudioTrack))

	var mu sync.Mutex
	var events []Event
	observe := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	o := NewOrchestrator(m, 2, testLogger())
	results, err := o.Convert(context.Background(), []SourceVideo{sourceAt(0), sourceAt(1), sourceAt(2)}, observe)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)

	var serr *StageError
	require.True(t, errors.As(results[1].Err, &serr))
	assert.Equal(t, 1, serr.Index)
	assert.Equal(t, StageExtractAudio, serr.Stage)
	assert.ErrorIs(t, results[1].Err, audio.ErrNoAudioTrack)
	assert.ErrorIs(t, results[1].Err, media.ErrNoAudioTrack)

	m.AssertNotCalled(t, "Mux", mock.Anything, videoFor(1), mock.Anything)

	mu.Lock()
	defer mu.Unlock()
	// 3 stages for each good clip, compose + failed extract for the bad one.
	assert.Len(t, events, 8)
}

func TestConvert_EncodeErrorKeepsCodecMessage(t *testing.T) {
	m := &mockTransformer{}
	ffErr := &media.FFmpegError{Args: []string{"-i", "x"}, Stderr: "Invalid data found", Err: errors.New("exit status 1")}

	m.On("Compose", mock.Anything, byIndex(0)).Return(CompositedVideo{Data: []byte("vid-0")}, nil)
	m.On("ExtractAudio", mock.Anything, byIndex(0)).Return(AudioAsset{Data: []byte("aud-0")}, nil)
	m.On("Mux", mock.Anything, mock.Anything, mock.Anything).
		Return(FinishedVideo{}, fmt.Errorf("%w: mux: %w", media.ErrEncode, ffErr))

	o := NewOrchestrator(m, 1, testLogger())
	results, err := o.Convert(context.Background(), []SourceVideo{sourceAt(0)}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, results[0].Err, media.ErrEncode)
	var target *media.FFmpegError
	require.True(t, errors.As(results[0].Err, &target))
	assert.Contains(t, results[0].Err.Error(), "Invalid data found")
	assert.Contains(t, results[0].Err.Error(), "clip 0: mux")
}

func TestConvert_AbortStopsPendingClips(t *testing.T) {
	m := &mockTransformer{}
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	m.On("Compose", mock.Anything, byIndex(0)).
		Run(func(mock.Arguments) {
			close(started)
			cancel()
		}).
		After(20*time.Millisecond).
		Return(CompositedVideo{Data: []byte("vid-0")}, nil)
	m.On("ExtractAudio", mock.Anything, byIndex(0)).Return(AudioAsset{Data: []byte("aud-0")}, nil)
	m.On("Mux", mock.Anything, videoFor(0), mock.Anything).Return(FinishedVideo{Data: []byte("out-0")}, nil)

	o := NewOrchestrator(m, 1, testLogger())
	results, err := o.Convert(ctx, []SourceVideo{sourceAt(0), sourceAt(1), sourceAt(2)}, nil)
	require.NoError(t, err)
	<-started

	// The in-flight clip completes on a detached context.
	require.NoError(t, results[0].Err)
	assert.Equal(t, "out-0", string(results[0].Video.Data))

	for _, r := range results[1:] {
		assert.ErrorIs(t, r.Err, ErrAborted)
	}
	m.AssertNotCalled(t, "Compose", mock.Anything, byIndex(1))
	m.AssertNotCalled(t, "Compose", mock.Anything, byIndex(2))
}

func TestConvert_AlreadyCancelled(t *testing.T) {
	m := &mockTransformer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(m, 2, testLogger())
	results, err := o.Convert(ctx, []SourceVideo{sourceAt(0), sourceAt(1)}, nil)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.ErrorIs(t, r.Err, ErrAborted)
	}
	m.AssertNotCalled(t, "Compose", mock.Anything, mock.Anything)
}

func TestConvert_RetriedSubsetKeepsClipIndex(t *testing.T) {
	m := &mockTransformer{}
	expectClip(m, 4, 0)

	o := NewOrchestrator(m, 2, testLogger())
	results, err := o.Convert(context.Background(), []SourceVideo{sourceAt(4)}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Index)
	assert.Equal(t, 4, results[0].Video.Index)
}

func TestResizeAll(t *testing.T) {
	videos := []FinishedVideo{
		{Index: 0, Data: []byte("out-0")},
		{Index: 1, Data: []byte("out-1")},
		{Index: 2, Data: []byte("out-2")},
	}
	matchVideo := func(i int) interface{} {
		return mock.MatchedBy(func(v FinishedVideo) bool { return v.Index == i })
	}

	t.Run("failed clip is excluded and flagged", func(t *testing.T) {
		m := &mockTransformer{}
		m.On("Resize", mock.Anything, matchVideo(0), 2880, 540).
			After(15*time.Millisecond).
			Return(ResizedVideo{Data: []byte("r-0"), Width: 2880, Height: 540}, nil)
		m.On("Resize", mock.Anything, matchVideo(1), 2880, 540).
			Return(ResizedVideo{}, fmt.Errorf("%w: resize: boom", media.ErrEncode))
		m.On("Resize", mock.Anything, matchVideo(2), 2880, 540).
			Return(ResizedVideo{Data: []byte("r-2"), Width: 2880, Height: 540}, nil)

		o := NewOrchestrator(m, 3, testLogger())
		resized, failures, err := o.ResizeAll(context.Background(), videos, Preset2880x540, nil)
		require.NoError(t, err)

		require.Len(t, resized, 2)
		assert.Equal(t, 0, resized[0].Index)
		assert.Equal(t, 2, resized[1].Index)
		assert.Equal(t, "r-2", string(resized[1].Data))

		require.Len(t, failures, 1)
		assert.Equal(t, 1, failures[0].Index)
		assert.Equal(t, StageResize, failures[0].Stage)
		assert.ErrorIs(t, failures[0], media.ErrEncode)
	})

	t.Run("uses preset dimensions", func(t *testing.T) {
		m := &mockTransformer{}
		m.On("Resize", mock.Anything, mock.Anything, 1920, 360).
			Return(ResizedVideo{Width: 1920, Height: 360}, nil)

		o := NewOrchestrator(m, 2, testLogger())
		resized, failures, err := o.ResizeAll(context.Background(), videos[:1], Preset1920x360, nil)
		require.NoError(t, err)
		assert.Empty(t, failures)
		require.Len(t, resized, 1)
		assert.Equal(t, 1920, resized[0].Width)
		m.AssertExpectations(t)
	})

	t.Run("invalid preset", func(t *testing.T) {
		o := NewOrchestrator(&mockTransformer{}, 2, testLogger())
		_, _, err := o.ResizeAll(context.Background(), videos, Preset("100x100"), nil)
		assert.ErrorIs(t, err, media.ErrInvalidDimension)
		assert.ErrorIs(t, err, ErrUnknownPreset)
	})

	t.Run("empty batch", func(t *testing.T) {
		o := NewOrchestrator(&mockTransformer{}, 2, testLogger())
		_, _, err := o.ResizeAll(context.Background(), nil, Preset2880x540, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})
}
