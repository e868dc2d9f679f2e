package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maauso/speechguard-api/internal/pipeline"
	"github.com/maauso/speechguard-api/internal/storage"
)

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, audioPath string, opts pipeline.Options) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, audioPath string, opts pipeline.Options) (*pipeline.Result, error) {
	return f(ctx, audioPath, opts)
}

// uploadingStorage records S3 uploads on top of LocalStorage.
type uploadingStorage struct {
	*storage.LocalStorage
	mu          sync.Mutex
	keys        []string
	contentType string
	body        []byte
	err         error
}

func (s *uploadingStorage) UploadToS3(_ context.Context, key, contentType string, data io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	s.contentType = contentType
	s.body, _ = io.ReadAll(data)
	return "https://bucket.example.com/" + key, nil
}

func newStorage(t *testing.T) *uploadingStorage {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return &uploadingStorage{LocalStorage: local}
}

func submitAndWait(t *testing.T, svc *Service, input SubmitInput) *Job {
	t.Helper()
	ctx := context.Background()
	created, err := svc.Submit(ctx, input)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	svc.Wait()
	job, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return job
}

func redactedResult() *pipeline.Result {
	return &pipeline.Result{
		Transcript:     "bad words",
		SanitizedAudio: []byte("RIFFclean"),
		ContentType:    "audio/wav",
		Summary:        pipeline.Summary{FlaggedSegments: 1},
	}
}

func TestService_Submit_Completes(t *testing.T) {
	store := newStorage(t)
	var seenPath string
	var seenOpts pipeline.Options
	runner := runnerFunc(func(_ context.Context, path string, opts pipeline.Options) (*pipeline.Result, error) {
		seenPath = path
		seenOpts = opts
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "mp3 bytes" {
			t.Errorf("runner saw %q, %v", data, err)
		}
		return &pipeline.Result{Transcript: "hello"}, nil
	})
	svc := NewService(NewMemoryRepository(), runner, store)

	opts := pipeline.DefaultOptions()
	opts.DiarizationEnabled = true

	job := submitAndWait(t, svc, SubmitInput{
		Filename: "call.mp3",
		Audio:    strings.NewReader("mp3 bytes"),
		Options:  opts,
	})

	if job.Status != StatusCompleted {
		t.Fatalf("expected status %s, got %s (%s)", StatusCompleted, job.Status, job.Error)
	}
	if job.Result == nil || job.Result.Transcript != "hello" {
		t.Errorf("expected result to be stored, got %+v", job.Result)
	}
	if !strings.HasSuffix(seenPath, ".mp3") {
		t.Errorf("expected upload extension to be kept, got %s", seenPath)
	}
	if !seenOpts.DiarizationEnabled {
		t.Error("expected options to reach the pipeline")
	}
	if _, err := os.Stat(seenPath); !os.IsNotExist(err) {
		t.Errorf("expected upload %s to be removed", seenPath)
	}
	if job.InputAudioPath != "" {
		t.Errorf("expected input path to be cleared, got %s", job.InputAudioPath)
	}
	if len(store.keys) != 0 {
		t.Errorf("expected no S3 upload, got %v", store.keys)
	}
}

func TestService_Submit_PushesSanitizedAudio(t *testing.T) {
	store := newStorage(t)
	runner := runnerFunc(func(context.Context, string, pipeline.Options) (*pipeline.Result, error) {
		return redactedResult(), nil
	})
	svc := NewService(NewMemoryRepository(), runner, store)

	job := submitAndWait(t, svc, SubmitInput{
		Filename: "call.mp3",
		Audio:    strings.NewReader("x"),
		Options:  pipeline.DefaultOptions(),
		PushToS3: true,
	})

	if job.Status != StatusCompleted {
		t.Fatalf("expected status %s, got %s (%s)", StatusCompleted, job.Status, job.Error)
	}
	wantKey := job.ID + ".wav"
	if len(store.keys) != 1 || store.keys[0] != wantKey {
		t.Errorf("expected upload key %s, got %v", wantKey, store.keys)
	}
	if store.contentType != "audio/wav" || !bytes.Equal(store.body, []byte("RIFFclean")) {
		t.Errorf("unexpected upload %s %q", store.contentType, store.body)
	}
	if job.SanitizedAudioURL != "https://bucket.example.com/"+wantKey {
		t.Errorf("unexpected URL %s", job.SanitizedAudioURL)
	}
}

func TestService_Submit_UploadFailureFailsJob(t *testing.T) {
	store := newStorage(t)
	store.err = storage.ErrS3NotConfigured
	runner := runnerFunc(func(context.Context, string, pipeline.Options) (*pipeline.Result, error) {
		return redactedResult(), nil
	})
	svc := NewService(NewMemoryRepository(), runner, store)

	job := submitAndWait(t, svc, SubmitInput{Filename: "a.wav", Audio: strings.NewReader("x"), PushToS3: true})

	if job.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if !strings.Contains(job.Error, "S3 is not configured") {
		t.Errorf("unexpected error %q", job.Error)
	}
}

func TestService_Submit_PipelineFailure(t *testing.T) {
	runner := runnerFunc(func(context.Context, string, pipeline.Options) (*pipeline.Result, error) {
		return nil, &pipeline.Error{Stage: pipeline.StageTranscribe, Err: pipeline.ErrTranscription}
	})
	svc := NewService(NewMemoryRepository(), runner, newStorage(t))

	job := submitAndWait(t, svc, SubmitInput{Filename: "a.wav", Audio: strings.NewReader("x")})

	if job.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if !strings.Contains(job.Error, "transcription failed") {
		t.Errorf("unexpected error %q", job.Error)
	}
}

func TestService_Submit_TimesOut(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, _ string, _ pipeline.Options) (*pipeline.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := NewService(NewMemoryRepository(), runner, newStorage(t), WithRunTimeout(20*time.Millisecond))

	job := submitAndWait(t, svc, SubmitInput{Filename: "a.wav", Audio: strings.NewReader("x")})

	if job.Status != StatusTimedOut {
		t.Fatalf("expected status %s, got %s (%s)", StatusTimedOut, job.Status, job.Error)
	}
}

func TestService_Submit_OutlivesRequestContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string, _ pipeline.Options) (*pipeline.Result, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &pipeline.Result{}, nil
	})
	svc := NewService(NewMemoryRepository(), runner, newStorage(t))

	reqCtx, cancel := context.WithCancel(context.Background())
	created, err := svc.Submit(reqCtx, SubmitInput{Filename: "a.wav", Audio: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	cancel()
	close(release)
	svc.Wait()

	job, _ := svc.Get(context.Background(), created.ID)
	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s (%s)", StatusCompleted, job.Status, job.Error)
	}
}

func TestService_Cancel(t *testing.T) {
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string, _ pipeline.Options) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := NewService(NewMemoryRepository(), runner, newStorage(t))
	ctx := context.Background()

	created, err := svc.Submit(ctx, SubmitInput{Filename: "a.wav", Audio: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	if err := svc.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	svc.Wait()

	job, _ := svc.Get(ctx, created.ID)
	if job.Status != StatusCancelled {
		t.Fatalf("expected status %s, got %s", StatusCancelled, job.Status)
	}

	if err := svc.Cancel(ctx, created.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("expected ErrJobFinished, got %v", err)
	}
	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestService_List(t *testing.T) {
	runner := runnerFunc(func(context.Context, string, pipeline.Options) (*pipeline.Result, error) {
		return &pipeline.Result{}, nil
	})
	svc := NewService(NewMemoryRepository(), runner, newStorage(t))

	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(context.Background(), SubmitInput{Filename: "a.wav", Audio: strings.NewReader("x")}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	svc.Wait()

	jobs, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("expected 3 jobs, got %d", len(jobs))
	}
}

func TestSanitizedExt(t *testing.T) {
	tests := []struct {
		contentType, filename, want string
	}{
		{"audio/wav", "call.mp3", ".wav"},
		{"audio/x-wav", "", ".wav"},
		{"audio/mpeg", "call.mp3", ".mp3"},
		{"", "", ".bin"},
	}
	for _, tt := range tests {
		if got := sanitizedExt(tt.contentType, tt.filename); got != tt.want {
			t.Errorf("sanitizedExt(%q, %q) = %q, want %q", tt.contentType, tt.filename, got, tt.want)
		}
	}
}

// failingDeleteRepository rejects every Delete.
type failingDeleteRepository struct {
	*MemoryRepository
}

func (r failingDeleteRepository) Delete(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestService_PruneFinished(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	done := NewWithID("done")
	_ = done.Start()
	_ = done.Fail("boom")
	running := NewWithID("running")
	_ = running.Start()
	_ = repo.Save(ctx, done)
	_ = repo.Save(ctx, running)

	svc := NewService(repo, nil, nil)

	if n, err := svc.PruneFinished(ctx, time.Now().Add(-time.Minute)); err != nil || n != 0 {
		t.Errorf("expected nothing pruned before cutoff, got %d (%v)", n, err)
	}
	if n, err := svc.PruneFinished(ctx, time.Now().Add(time.Minute)); err != nil || n != 1 {
		t.Errorf("expected 1 pruned, got %d (%v)", n, err)
	}
	if _, err := repo.FindByID(ctx, "running"); err != nil {
		t.Errorf("running job should survive pruning: %v", err)
	}
	if _, err := repo.FindByID(ctx, "done"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected finished job to be pruned, got %v", err)
	}
}

func TestService_PruneFinished_DeleteError(t *testing.T) {
	repo := failingDeleteRepository{NewMemoryRepository()}
	done := NewWithID("done")
	_ = done.Start()
	_ = done.Fail("boom")
	_ = repo.Save(context.Background(), done)

	svc := NewService(repo, nil, nil)
	n, err := svc.PruneFinished(context.Background(), time.Now().Add(time.Minute))
	if err == nil || !strings.Contains(err.Error(), "delete job done") {
		t.Fatalf("expected delete error, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 pruned, got %d", n)
	}
}
