package diarize

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechguard-api/internal/media"
	"github.com/maauso/speechguard-api/internal/runpod"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// mockClient implements runpod.Client for testing.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Submit(ctx context.Context, audioB64 string, opts runpod.SubmitOptions) (string, error) {
	args := m.Called(ctx, audioB64, opts)
	return args.String(0), args.Error(1)
}

func (m *mockClient) Poll(ctx context.Context, jobID string) (runpod.PollResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(runpod.PollResult), args.Error(1)
}

func (m *mockClient) Cancel(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

// mockProcessor implements media.Processor for testing.
type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Probe(ctx context.Context, path string) (media.Info, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.Info), args.Error(1)
}

func (m *mockProcessor) ConvertToMono16k(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	if args.Error(0) == nil {
		_ = os.WriteFile(dst, []byte("converted"), 0o600)
	}
	return args.Error(0)
}

func (m *mockProcessor) Splice(ctx context.Context, src, dst string, keep []media.SampleRange, sampleRate int) error {
	return m.Called(ctx, src, dst, keep, sampleRate).Error(0)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNeedsConversion(t *testing.T) {
	assert.False(t, NeedsConversion("a.wav"))
	assert.False(t, NeedsConversion("a.FLAC"))
	assert.False(t, NeedsConversion("a.ogg"))
	assert.False(t, NeedsConversion("a.opus"))
	assert.True(t, NeedsConversion("a.mp3"))
	assert.True(t, NeedsConversion("a.m4a"))
	assert.True(t, NeedsConversion("a"))
}

func TestRunPod_Diarize_SortsTurns(t *testing.T) {
	path := writeFile(t, "call.wav", "wav-bytes")

	client := &mockClient{}
	client.On("Submit", mock.Anything, base64.StdEncoding.EncodeToString([]byte("wav-bytes")), runpod.SubmitOptions{MaxSpeakers: 2}).
		Return("job-1", nil).Once()
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusInQueue}, nil).Once()
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{
		Status: runpod.StatusCompleted,
		Turns: []runpod.Turn{
			{Speaker: "SPEAKER_01", Start: 5, End: 9},
			{Speaker: "SPEAKER_00", Start: 0, End: 5},
			{Speaker: "SPEAKER_00", Start: 5, End: 6},
		},
	}, nil).Once()

	p := NewRunPod(client, nil, RunPodConfig{Submit: runpod.SubmitOptions{MaxSpeakers: 2}, PollInterval: time.Millisecond})

	turns, err := p.Diarize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []transcript.SpeakerTurn{
		{Speaker: "SPEAKER_00", Start: 0, End: 5},
		{Speaker: "SPEAKER_00", Start: 5, End: 6},
		{Speaker: "SPEAKER_01", Start: 5, End: 9},
	}, turns)
	client.AssertExpectations(t)
}

func TestRunPod_Diarize_ConvertsUnsupportedContainers(t *testing.T) {
	tempDir := t.TempDir()
	path := writeFile(t, "call.mp3", "mp3-bytes")

	var converted string
	proc := &mockProcessor{}
	proc.On("ConvertToMono16k", mock.Anything, path, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { converted = args.String(2) }).
		Return(nil)

	client := &mockClient{}
	client.On("Submit", mock.Anything, base64.StdEncoding.EncodeToString([]byte("converted")), mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusCompleted, Turns: []runpod.Turn{}}, nil)

	p := NewRunPod(client, proc, RunPodConfig{PollInterval: time.Millisecond, TempDir: tempDir})

	turns, err := p.Diarize(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, turns)

	assert.Equal(t, tempDir, filepath.Dir(converted))
	_, statErr := os.Stat(converted)
	assert.True(t, os.IsNotExist(statErr), "converted temp file should be removed")
}

func TestRunPod_Diarize_ConversionRequiresProcessor(t *testing.T) {
	path := writeFile(t, "call.m4a", "m4a")

	_, err := NewRunPod(&mockClient{}, nil, RunPodConfig{}).Diarize(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no media processor")
}

func TestRunPod_Diarize_ConversionFailure(t *testing.T) {
	tempDir := t.TempDir()
	path := writeFile(t, "call.webm", "webm")

	proc := &mockProcessor{}
	proc.On("ConvertToMono16k", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("ffmpeg exploded"))

	client := &mockClient{}
	_, err := NewRunPod(client, proc, RunPodConfig{TempDir: tempDir}).Diarize(context.Background(), path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exploded")
	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)

	entries, _ := os.ReadDir(tempDir)
	assert.Empty(t, entries)
}

func TestRunPod_Diarize_JobFailed(t *testing.T) {
	path := writeFile(t, "call.wav", "wav")

	client := &mockClient{}
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusFailed, Error: "no speech"}, nil)

	_, err := NewRunPod(client, nil, RunPodConfig{PollInterval: time.Millisecond}).Diarize(context.Background(), path)

	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "no speech")
}

func TestRunPod_Diarize_CancelsRemoteJobOnTimeout(t *testing.T) {
	path := writeFile(t, "call.wav", "wav")

	client := &mockClient{}
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusInProgress}, nil)
	client.On("Cancel", mock.Anything, "job-1").Return(nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewRunPod(client, nil, RunPodConfig{PollInterval: 5 * time.Millisecond}).Diarize(ctx, path)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	client.AssertCalled(t, "Cancel", mock.Anything, "job-1")
}

func TestRunPod_Diarize_EmptyPath(t *testing.T) {
	_, err := NewRunPod(&mockClient{}, nil, RunPodConfig{}).Diarize(context.Background(), "")
	assert.ErrorIs(t, err, ErrAudioPathRequired)
}

func TestLazy(t *testing.T) {
	path := writeFile(t, "call.wav", "wav")
	var builds int32

	client := &mockClient{}
	client.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").Return(runpod.PollResult{Status: runpod.StatusCompleted, Turns: []runpod.Turn{}}, nil)

	l := NewLazy("runpod", func(context.Context) (Provider, error) {
		if atomic.AddInt32(&builds, 1) == 1 {
			return nil, errors.New("endpoint not configured")
		}
		return NewRunPod(client, nil, RunPodConfig{PollInterval: time.Millisecond}), nil
	})

	_, err := l.Diarize(context.Background(), path)
	require.Error(t, err)

	for range 2 {
		_, err = l.Diarize(context.Background(), path)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
	assert.Equal(t, "runpod", l.Name())
}
