package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/speechguard-api/internal/pipeline"
	"github.com/maauso/speechguard-api/internal/storage"
)

// DefaultRunTimeout bounds a single pipeline run.
const DefaultRunTimeout = 15 * time.Minute

// Service errors.
var (
	// ErrJobFinished is returned when cancelling a job in a terminal state.
	ErrJobFinished = errors.New("job already finished")
	// errCancelled is the cancellation cause for client cancels.
	errCancelled = errors.New("cancelled by client")
)

// Runner runs the moderation pipeline on a local audio file.
type Runner interface {
	Run(ctx context.Context, audioPath string, opts pipeline.Options) (*pipeline.Result, error)
}

// Compile-time check that the pipeline satisfies Runner.
var _ Runner = (*pipeline.ModerationPipeline)(nil)

// SubmitInput is a moderation request.
type SubmitInput struct {
	// Filename is the client-supplied name; its extension is preserved.
	Filename string
	// Audio is the uploaded audio.
	Audio io.Reader
	// Options configure the run.
	Options pipeline.Options
	// PushToS3 uploads the sanitized audio to S3.
	PushToS3 bool
}

// Service accepts moderation jobs and runs them in the background.
type Service struct {
	repo       Repository
	runner     Runner
	storage    storage.Storage
	logger     *slog.Logger
	runTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRunTimeout sets the deadline of each pipeline run.
func WithRunTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service.
func NewService(repo Repository, runner Runner, store storage.Storage, opts ...ServiceOption) *Service {
	s := &Service{
		repo:       repo,
		runner:     runner,
		storage:    store,
		logger:     slog.Default(),
		runTimeout: DefaultRunTimeout,
		cancels:    make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit stores the audio, persists an IN_QUEUE job and starts processing
// it in the background. The background run is detached from ctx so it
// outlives the request that created it.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Job, error) {
	path, err := s.storage.SaveTemp(ctx, input.Filename, input.Audio)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	job := New()
	job.Filename = input.Filename
	job.InputAudioPath = path
	job.Options = input.Options
	job.PushToS3 = input.PushToS3

	s.logger.Info("creating moderation job",
		slog.String("job_id", job.ID),
		slog.String("filename", input.Filename),
		slog.Bool("diarization", input.Options.DiarizationEnabled),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		_ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{path})
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(runCtx, job)
	}()

	return job.Clone(), nil
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// List returns all jobs.
func (s *Service) List(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel stops a queued or running job. The job moves to CANCELLED once the
// pipeline returns.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobFinished
	}

	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrJobFinished
	}

	s.logger.Info("cancelling job", slog.String("job_id", jobID))
	cancel(errCancelled)
	return nil
}

// PruneFinished deletes terminal jobs that completed before cutoff and
// returns how many were removed. Results hold sanitized audio in memory,
// so long-running servers call this periodically.
func (s *Service) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	removed := 0
	for _, job := range jobs {
		if !job.IsTerminal() || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.repo.Delete(ctx, job.ID); err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
		removed++
	}
	return removed, nil
}

// Wait blocks until every background run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) process(ctx context.Context, job *Job) {
	logger := s.logger.With(slog.String("job_id", job.ID))
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[job.ID]; ok {
			cancel(nil)
			delete(s.cancels, job.ID)
		}
		s.mu.Unlock()
		s.cleanup(job, logger)
	}()

	if err := job.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.save(job, logger)

	runCtx, cancel := context.WithTimeoutCause(ctx, s.runTimeout, context.DeadlineExceeded)
	defer cancel()

	start := time.Now()
	result, err := s.runner.Run(runCtx, job.InputAudioPath, job.Options)
	if err != nil {
		s.finishWithError(runCtx, job, err, logger)
		return
	}

	url, err := s.deliver(runCtx, job, result)
	if err != nil {
		logger.Error("failed to upload sanitized audio", slog.String("error", err.Error()))
		_ = job.Fail(err.Error())
		s.save(job, logger)
		return
	}

	if err := job.Complete(result, url); err != nil {
		logger.Error("failed to complete job", slog.String("error", err.Error()))
		return
	}
	s.save(job, logger)

	logger.Info("job completed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("flagged", result.Summary.FlaggedSegments),
		slog.Bool("redacted", result.Redacted()),
	)
}

func (s *Service) finishWithError(runCtx context.Context, job *Job, err error, logger *slog.Logger) {
	cause := context.Cause(runCtx)
	switch {
	case errors.Is(cause, errCancelled):
		_ = job.Cancel(errCancelled.Error())
		logger.Info("job cancelled")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(cause, context.DeadlineExceeded):
		_ = job.Timeout(fmt.Sprintf("run exceeded %s: %v", s.runTimeout, err))
		logger.Warn("job timed out", slog.Duration("timeout", s.runTimeout))
	default:
		_ = job.Fail(err.Error())
		logger.Error("job failed", slog.String("error", err.Error()))
	}
	s.save(job, logger)
}

// deliver uploads the sanitized audio when requested and there is any.
func (s *Service) deliver(ctx context.Context, job *Job, result *pipeline.Result) (string, error) {
	if !job.PushToS3 || !result.Redacted() {
		return "", nil
	}
	key := job.ID + sanitizedExt(result.ContentType, job.Filename)
	url, err := s.storage.UploadToS3(ctx, key, result.ContentType, bytes.NewReader(result.SanitizedAudio))
	if err != nil {
		return "", fmt.Errorf("upload sanitized audio: %w", err)
	}
	return url, nil
}

func sanitizedExt(contentType, filename string) string {
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	}
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return ".bin"
}

func (s *Service) save(job *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.Background(), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

func (s *Service) cleanup(job *Job, logger *slog.Logger) {
	if job.InputAudioPath == "" {
		return
	}
	if err := s.storage.CleanupTemp(context.Background(), []string{job.InputAudioPath}); err != nil {
		logger.Warn("failed to remove upload", slog.String("error", err.Error()))
	}
	job.ClearInput()
	s.save(job, logger)
}
