// Package bootstrap provides dependency initialization for the moderation API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/speechguard-api/internal/asr"
	"github.com/maauso/speechguard-api/internal/audio"
	"github.com/maauso/speechguard-api/internal/beam"
	"github.com/maauso/speechguard-api/internal/classify"
	classifyopenai "github.com/maauso/speechguard-api/internal/classify/openai"
	"github.com/maauso/speechguard-api/internal/config"
	"github.com/maauso/speechguard-api/internal/diarize"
	"github.com/maauso/speechguard-api/internal/job"
	"github.com/maauso/speechguard-api/internal/media"
	"github.com/maauso/speechguard-api/internal/observe"
	"github.com/maauso/speechguard-api/internal/pipeline"
	"github.com/maauso/speechguard-api/internal/redact"
	"github.com/maauso/speechguard-api/internal/runpod"
	"github.com/maauso/speechguard-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the entry points.
type Dependencies struct {
	Pipeline   *pipeline.ModerationPipeline
	Service    *job.Service
	Repository job.Repository
	Metrics    *observe.Metrics
	// Defaults are the run options derived from the configuration.
	Defaults pipeline.Options
}

// NewDependencies creates and initializes all dependencies for the application.
// metrics may be nil to disable metric recording.
func NewDependencies(cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	moderation, err := NewPipeline(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	defaults, err := DefaultOptions(cfg)
	if err != nil {
		return nil, err
	}

	repo := job.NewMemoryRepository()
	svc := job.NewService(repo, moderation, store,
		job.WithRunTimeout(cfg.RunTimeout),
		job.WithLogger(logger),
	)

	return &Dependencies{
		Pipeline:   moderation,
		Service:    svc,
		Repository: repo,
		Metrics:    metrics,
		Defaults:   defaults,
	}, nil
}

// NewPipeline wires the ASR chain, classifier, optional diarizer and the
// redactor into a ModerationPipeline.
func NewPipeline(cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) (*pipeline.ModerationPipeline, error) {
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)

	transcriber, err := initASR(cfg, logger)
	if err != nil {
		return nil, err
	}

	backend, err := classifyopenai.New(cfg.ClassifierAPIKey, cfg.ClassifierModel,
		classifyopenai.WithBaseURL(classifierBaseURL(cfg)),
		classifyopenai.WithJSONSchema(cfg.ClassifierJSONSchema),
		classifyopenai.WithTimeout(60*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create classifier backend: %w", err)
	}
	classifier := classify.NewLLMClassifier(backend,
		classify.WithStrictSpans(cfg.ClassifierStrictSpans),
		classify.WithLogger(logger),
	)

	opts := []pipeline.Option{
		pipeline.WithRedactor(redact.NewRedactor(processor,
			redact.WithTempDir(cfg.TempDir),
			redact.WithLogger(logger),
		)),
		pipeline.WithLogger(logger),
	}
	if metrics != nil {
		opts = append(opts, pipeline.WithMetrics(metrics))
	}
	if cfg.RunPodAPIKey != "" && cfg.RunPodEndpointID != "" {
		opts = append(opts, pipeline.WithDiarizer(initDiarizer(cfg, processor, logger)))
	}

	logger.Info("moderation pipeline configured",
		slog.String("asr", transcriber.Name()),
		slog.String("classifier_model", cfg.ClassifierModel),
		slog.Bool("diarization_default", cfg.DiarizationEnabled),
	)
	return pipeline.New(transcriber, classifier, opts...), nil
}

// DefaultOptions maps the configuration to the run options every request
// starts from.
func DefaultOptions(cfg *config.Config) (pipeline.Options, error) {
	labels, err := cfg.RemovalLabelList()
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.DefaultOptions()
	opts.RemovalLabels = labels
	opts.DefaultASRConfidence = cfg.DefaultASRConfidence
	opts.UseSegmentConfidence = cfg.UseSegmentConfidence
	opts.ConfidenceThreshold = cfg.ConfidenceThreshold
	opts.DiarizationMinOverlap = cfg.DiarizationMinOverlap
	opts.DiarizationEnabled = cfg.DiarizationEnabled
	opts.Concurrency = cfg.ClassifierConcurrency
	if err := opts.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	return opts, nil
}

func classifierBaseURL(cfg *config.Config) string {
	if cfg.ClassifierBaseURL != "" {
		return cfg.ClassifierBaseURL
	}
	return classifyopenai.DefaultBaseURL
}

// initASR builds the transcription chain. Backends are built lazily so a
// misconfigured secondary does not prevent startup.
func initASR(cfg *config.Config, logger *slog.Logger) (asr.Provider, error) {
	temperature := cfg.ASRTemperature
	beamSize := cfg.ASRBeamSize
	bestOf := cfg.ASRBestOf
	defaults := asr.Options{
		Language:      cfg.ASRDefaultLanguage,
		Temperature:   &temperature,
		InitialPrompt: cfg.ASRInitialPrompt,
		BeamSize:      &beamSize,
		BestOf:        &bestOf,
	}

	var providers []asr.Provider
	if cfg.OpenAIEnabled() {
		providers = append(providers, asr.NewLazy("openai", func(context.Context) (asr.Provider, error) {
			whisper, err := asr.NewOpenAI(asr.OpenAIConfig{
				APIKey:   cfg.OpenAIAPIKey,
				BaseURL:  cfg.ASRBaseURL,
				Model:    cfg.ASRModel,
				Defaults: defaults,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			splitOpts := audio.DefaultSplitOpts()
			splitOpts.ChunkTargetSec = cfg.ASRChunkSec
			return asr.NewChunked(whisper, asr.ChunkedConfig{
				Splitter:  audio.NewFFmpegSplitter(cfg.FFmpegPath, media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)),
				SplitOpts: splitOpts,
				MaxBytes:  cfg.ASRMaxUploadBytes,
				TempDir:   cfg.TempDir,
				Logger:    logger,
			}), nil
		}))
	}
	if cfg.BeamEnabled() {
		beamProvider := asr.NewLazy("beam", func(context.Context) (asr.Provider, error) {
			client, err := beam.NewClient(cfg.BeamASRQueueURL, beam.WithToken(cfg.BeamToken))
			if err != nil {
				return nil, fmt.Errorf("create Beam client: %w", err)
			}
			return asr.NewBeam(client, asr.BeamConfig{
				Model:        cfg.BeamASRModel,
				PollInterval: time.Duration(cfg.BeamPollIntervalMs) * time.Millisecond,
				Defaults:     defaults,
				Logger:       logger,
			}), nil
		})
		if cfg.PreferBeamForASR {
			providers = append([]asr.Provider{beamProvider}, providers...)
		} else {
			providers = append(providers, beamProvider)
		}
	}
	if len(providers) == 0 {
		return nil, config.ErrASRBackendRequired
	}
	return asr.NewChain(logger, providers...), nil
}

func initDiarizer(cfg *config.Config, processor media.Processor, logger *slog.Logger) diarize.Provider {
	return diarize.NewLazy("runpod", func(context.Context) (diarize.Provider, error) {
		client, err := runpod.NewClient(cfg.RunPodEndpointID, runpod.WithAPIKey(cfg.RunPodAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create RunPod client: %w", err)
		}
		return diarize.NewRunPod(client, processor, diarize.RunPodConfig{
			Submit:  runpod.DefaultSubmitOptions(),
			TempDir: cfg.TempDir,
			Logger:  logger,
		}), nil
	})
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Prefix:          cfg.S3Prefix,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
