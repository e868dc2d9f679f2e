package asr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/speechguard-api/internal/beam"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// ErrTaskFailed is returned when the remote transcription task ends without output.
var ErrTaskFailed = errors.New("asr: transcription task failed")

// BeamConfig configures the Beam faster-whisper backend.
type BeamConfig struct {
	// Model is the faster-whisper model name, e.g. "large-v3".
	Model        string
	PollInterval time.Duration
	Defaults     Options
	Logger       *slog.Logger
}

// Compile-time check that Beam implements Provider.
var _ Provider = (*Beam)(nil)

// Beam transcribes on a faster-whisper worker behind a Beam task queue. It
// is the only backend that honours BeamSize and BestOf.
type Beam struct {
	client       beam.Client
	model        string
	pollInterval time.Duration
	defaults     Options
	logger       *slog.Logger
}

// NewBeam wraps a Beam task-queue client.
func NewBeam(client beam.Client, cfg BeamConfig) *Beam {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Beam{
		client:       client,
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		defaults:     cfg.Defaults,
		logger:       cfg.Logger,
	}
}

// Name implements Provider.
func (p *Beam) Name() string { return "beam" }

// Transcribe implements Provider.
func (p *Beam) Transcribe(ctx context.Context, req Request) (*transcript.Transcript, error) {
	if req.AudioPath == "" {
		return nil, ErrAudioPathRequired
	}
	opts := req.Options.Merge(p.defaults)

	data, err := os.ReadFile(req.AudioPath) // #nosec G304 - path is a server-managed temp file
	if err != nil {
		return nil, fmt.Errorf("asr: read audio: %w", err)
	}

	task := beam.TaskTranscribe
	if opts.Translate {
		task = beam.TaskTranslate
	}

	taskID, err := p.client.Submit(ctx, base64.StdEncoding.EncodeToString(data), beam.SubmitOptions{
		Model:         p.model,
		Task:          task,
		Language:      opts.Language,
		InitialPrompt: opts.InitialPrompt,
		Temperature:   opts.Temperature,
		BeamSize:      opts.BeamSize,
		BestOf:        opts.BestOf,
	})
	if err != nil {
		return nil, fmt.Errorf("asr: beam submit: %w", err)
	}
	p.logger.Info("transcription task submitted", slog.String("task_id", taskID), slog.String("task", task))

	result, err := p.waitForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	doc, err := p.client.DownloadOutput(ctx, result.OutputURL)
	if err != nil {
		return nil, fmt.Errorf("asr: beam download: %w", err)
	}

	requested := opts.Language
	if opts.Translate {
		requested = "en"
	}
	return parseVerbose(doc, p.model, requested)
}

func (p *Beam) waitForTask(ctx context.Context, taskID string) (beam.PollResult, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		result, err := p.client.Poll(ctx, taskID)
		if err != nil {
			return beam.PollResult{}, fmt.Errorf("asr: beam poll: %w", err)
		}

		if result.Status.IsTerminal() {
			if result.Status != beam.StatusCompleted || result.OutputURL == "" {
				return beam.PollResult{}, fmt.Errorf("%w: task %s %s: %s", ErrTaskFailed, taskID, result.Status, result.Error)
			}
			return result, nil
		}

		select {
		case <-ctx.Done():
			return beam.PollResult{}, fmt.Errorf("asr: waiting for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}
