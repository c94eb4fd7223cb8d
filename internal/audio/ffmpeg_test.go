package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/panostitch/internal/media"
)

// checkFFmpeg skips test if ffmpeg is not available.
func checkFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestVideo creates a short clip, with a 48 kHz stereo track when withAudio is set.
func createTestVideo(t *testing.T, path string, withAudio bool) {
	t.Helper()

	args := []string{"-y", "-f", "lavfi", "-i", "testsrc=size=64x64:rate=25:duration=1"}
	if withAudio {
		args = append(args,
			"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=48000:duration=1",
			"-ac", "2", "-c:a", "aac",
		)
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p", path)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

// mockProber implements Prober for testing.
type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, path string) (media.Info, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.Info), args.Error(1)
}

func TestNewFFmpegExtractor(t *testing.T) {
	e := NewFFmpegExtractor("", nil)
	assert.Equal(t, "ffmpeg", e.ffmpegPath)

	e = NewFFmpegExtractor("/opt/ffmpeg", nil)
	assert.Equal(t, "/opt/ffmpeg", e.ffmpegPath)
}

func TestFFmpegExtractor_NoAudioTrack(t *testing.T) {
	ctx := context.Background()
	prober := &mockProber{}
	prober.On("Probe", ctx, "/clips/silent.mp4").
		Return(media.Info{Width: 640, Height: 480, FrameCount: 60}, nil)

	e := NewFFmpegExtractor("/does/not/run", prober)
	_, err := e.Extract(ctx, "/clips/silent.mp4", filepath.Join(t.TempDir(), "out.wav"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAudioTrack)
	prober.AssertExpectations(t)
}

func TestFFmpegExtractor_ProbeFailure(t *testing.T) {
	ctx := context.Background()
	probeErr := fmt.Errorf("%w: probe: boom", media.ErrDecode)

	prober := &mockProber{}
	prober.On("Probe", ctx, mock.Anything).Return(media.Info{}, probeErr)

	e := NewFFmpegExtractor("/does/not/run", prober)
	_, err := e.Extract(ctx, "/clips/broken.mp4", filepath.Join(t.TempDir(), "out.wav"))

	assert.ErrorIs(t, err, media.ErrDecode)
	assert.False(t, errors.Is(err, ErrNoAudioTrack))
}

func TestFFmpegExtractor_EncodeFailureCarriesStderr(t *testing.T) {
	ctx := context.Background()
	prober := &mockProber{}
	prober.On("Probe", ctx, "/clips/talk.mp4").
		Return(media.Info{HasAudio: true, SampleRate: 48000, Channels: 2}, nil)

	e := NewFFmpegExtractor("/does/not/run", prober)
	_, err := e.Extract(ctx, "/clips/talk.mp4", filepath.Join(t.TempDir(), "out.wav"))

	assert.ErrorIs(t, err, media.ErrEncode)
	var ffErr *media.FFmpegError
	require.ErrorAs(t, err, &ffErr)
	assert.Equal(t, "/does/not/run", ffErr.Binary)
	assert.Contains(t, ffErr.Args, "pcm_s16le")
}

func TestFFmpegExtractor_Extract(t *testing.T) {
	checkFFmpeg(t)

	tmpDir := t.TempDir()
	processor := media.NewFFmpegProcessor("")
	e := NewFFmpegExtractor("", processor)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("writes pcm_s16le with inherited sample rate", func(t *testing.T) {
		src := filepath.Join(tmpDir, "with_audio.mp4")
		createTestVideo(t, src, true)
		dst := filepath.Join(tmpDir, "nested", "audio.wav")

		asset, err := e.Extract(ctx, src, dst)
		require.NoError(t, err)
		assert.Equal(t, 48000, asset.SampleRate)
		assert.Equal(t, 2, asset.Channels)

		_, err = os.Stat(dst)
		require.NoError(t, err)

		out, err := exec.Command("ffprobe",
			"-v", "error",
			"-select_streams", "a:0",
			"-show_entries", "stream=codec_name,sample_rate",
			"-of", "csv=p=0",
			dst,
		).Output()
		require.NoError(t, err)
		assert.Contains(t, string(out), "pcm_s16le")
		assert.Contains(t, string(out), "48000")
	})

	t.Run("clip without audio", func(t *testing.T) {
		src := filepath.Join(tmpDir, "silent.mp4")
		createTestVideo(t, src, false)

		_, err := e.Extract(ctx, src, filepath.Join(tmpDir, "silent.wav"))
		assert.ErrorIs(t, err, ErrNoAudioTrack)
	})
}
