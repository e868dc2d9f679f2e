package diarize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/speechguard-api/internal/media"
	"github.com/maauso/speechguard-api/internal/runpod"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// Static errors for the RunPod provider.
var (
	// ErrAudioPathRequired is returned when Diarize is called without a path.
	ErrAudioPathRequired = errors.New("diarize: audio path is required")
	// ErrJobFailed is returned when the remote job ends without output.
	ErrJobFailed = errors.New("diarize: job failed")
)

// nativeSuffixes are containers pyannote decodes without conversion.
var nativeSuffixes = map[string]bool{
	".wav":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
}

// NeedsConversion reports whether audio at path must be converted to mono
// 16 kHz WAV before diarization.
func NeedsConversion(path string) bool {
	return !nativeSuffixes[strings.ToLower(filepath.Ext(path))]
}

// RunPodConfig configures the RunPod provider.
type RunPodConfig struct {
	Submit       runpod.SubmitOptions
	PollInterval time.Duration
	TempDir      string
	Logger       *slog.Logger
}

// Compile-time check that RunPod implements Provider.
var _ Provider = (*RunPod)(nil)

// RunPod diarizes on a serverless pyannote worker.
type RunPod struct {
	client       runpod.Client
	processor    media.Processor
	submit       runpod.SubmitOptions
	pollInterval time.Duration
	tempDir      string
	logger       *slog.Logger
}

// NewRunPod creates the provider. processor converts containers pyannote
// cannot read; it may be nil when all input is already WAV, FLAC or Ogg.
func NewRunPod(client runpod.Client, processor media.Processor, cfg RunPodConfig) *RunPod {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RunPod{
		client:       client,
		processor:    processor,
		submit:       cfg.Submit,
		pollInterval: cfg.PollInterval,
		tempDir:      cfg.TempDir,
		logger:       cfg.Logger,
	}
}

// Name implements Provider.
func (p *RunPod) Name() string { return "runpod" }

// Diarize implements Provider.
func (p *RunPod) Diarize(ctx context.Context, audioPath string) ([]transcript.SpeakerTurn, error) {
	if audioPath == "" {
		return nil, ErrAudioPathRequired
	}

	path, cleanup, err := p.prepare(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path) // #nosec G304 - path is a server-managed temp file
	if err != nil {
		return nil, fmt.Errorf("diarize: read audio: %w", err)
	}

	jobID, err := p.client.Submit(ctx, base64.StdEncoding.EncodeToString(data), p.submit)
	if err != nil {
		return nil, fmt.Errorf("diarize: submit: %w", err)
	}
	p.logger.Info("diarization job submitted", slog.String("runpod_job_id", jobID))

	result, err := p.waitForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	turns := make([]transcript.SpeakerTurn, 0, len(result.Turns))
	for _, t := range result.Turns {
		turns = append(turns, transcript.SpeakerTurn{Speaker: t.Speaker, Start: t.Start, End: t.End})
	}
	transcript.SortTurns(turns)

	p.logger.Info("diarization completed",
		slog.String("runpod_job_id", jobID),
		slog.Int("turns", len(turns)),
	)
	return turns, nil
}

// prepare returns a path pyannote can read and a cleanup for any temp file.
func (p *RunPod) prepare(ctx context.Context, audioPath string) (string, func(), error) {
	noop := func() {}
	if !NeedsConversion(audioPath) {
		return audioPath, noop, nil
	}
	if p.processor == nil {
		return "", noop, fmt.Errorf("diarize: %s needs conversion but no media processor is configured", filepath.Ext(audioPath))
	}

	f, err := os.CreateTemp(p.tempDir, "diarize_*.wav")
	if err != nil {
		return "", noop, fmt.Errorf("diarize: create temp file: %w", err)
	}
	dst := f.Name()
	_ = f.Close()

	cleanup := func() {
		if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Debug("failed to remove temp file", slog.String("path", dst), slog.String("error", err.Error()))
		}
	}

	if err := p.processor.ConvertToMono16k(ctx, audioPath, dst); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("diarize: convert audio: %w", err)
	}
	return dst, cleanup, nil
}

func (p *RunPod) waitForJob(ctx context.Context, jobID string) (runpod.PollResult, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		result, err := p.client.Poll(ctx, jobID)
		if err != nil {
			return runpod.PollResult{}, fmt.Errorf("diarize: poll: %w", err)
		}

		if result.Status.IsTerminal() {
			if result.Status != runpod.StatusCompleted {
				return runpod.PollResult{}, fmt.Errorf("%w: %s %s: %s", ErrJobFailed, jobID, result.Status, result.Error)
			}
			return result, nil
		}

		select {
		case <-ctx.Done():
			p.cancel(jobID)
			return runpod.PollResult{}, fmt.Errorf("diarize: waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// cancel releases the remote worker after the caller gave up.
func (p *RunPod) cancel(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Cancel(ctx, jobID); err != nil {
		p.logger.Warn("failed to cancel diarization job",
			slog.String("runpod_job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
