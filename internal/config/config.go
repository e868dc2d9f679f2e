// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/speechguard-api/internal/classify"
)

// Static errors for configuration validation.
var (
	// ErrRunPodAPIKeyRequired is returned when diarization is enabled without RUNPOD_API_KEY.
	ErrRunPodAPIKeyRequired = errors.New("config: RUNPOD_API_KEY is required when diarization is enabled")
	// ErrRunPodEndpointIDRequired is returned when diarization is enabled without RUNPOD_ENDPOINT_ID.
	ErrRunPodEndpointIDRequired = errors.New("config: RUNPOD_ENDPOINT_ID is required when diarization is enabled")
	// ErrASRBackendRequired is returned when neither OpenAI nor Beam is configured for transcription.
	ErrASRBackendRequired = errors.New("config: OPENAI_API_KEY or BEAM_TOKEN with BEAM_ASR_QUEUE_URL is required")
	// ErrClassifierAPIKeyRequired is returned when CLASSIFIER_API_KEY is not set.
	ErrClassifierAPIKeyRequired = errors.New("config: CLASSIFIER_API_KEY is required")
	// ErrUnknownRemovalLabel is returned when REMOVAL_LABELS names a label outside the policy.
	ErrUnknownRemovalLabel = errors.New("config: unknown removal label")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port       int           `env:"PORT, default=8080" json:"port" validate:"gte=1,lte=65535"`
	RunTimeout time.Duration `env:"RUN_TIMEOUT, default=15m" json:"run_timeout" validate:"gt=0"`
	// JobRetention is how long finished jobs stay queryable.
	JobRetention time.Duration `env:"JOB_RETENTION, default=1h" json:"job_retention" validate:"gte=0"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/speechguard" json:"temp_dir" validate:"required"`

	// Media tooling
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// ASR settings
	OpenAIAPIKey       string  `env:"OPENAI_API_KEY" json:"-"` // Masked in JSON
	ASRModel           string  `env:"ASR_MODEL, default=whisper-1" json:"asr_model"`
	ASRBaseURL         string  `env:"ASR_BASE_URL" json:"asr_base_url,omitempty" validate:"omitempty,url"`
	ASRDefaultLanguage string  `env:"ASR_DEFAULT_LANGUAGE" json:"asr_default_language,omitempty" validate:"omitempty,min=2,max=8"`
	ASRTemperature     float64 `env:"ASR_TEMPERATURE, default=0" json:"asr_temperature" validate:"gte=0,lte=1"`
	ASRInitialPrompt   string  `env:"ASR_INITIAL_PROMPT" json:"asr_initial_prompt,omitempty"`
	ASRBeamSize        int     `env:"ASR_BEAM_SIZE, default=5" json:"asr_beam_size" validate:"gte=1,lte=20"`
	ASRBestOf          int     `env:"ASR_BEST_OF, default=5" json:"asr_best_of" validate:"gte=1,lte=20"`
	BeamToken          string  `env:"BEAM_TOKEN" json:"-"` // Masked in JSON
	BeamASRQueueURL    string  `env:"BEAM_ASR_QUEUE_URL" json:"beam_asr_queue_url,omitempty" validate:"omitempty,url"`
	BeamASRModel       string  `env:"BEAM_ASR_MODEL, default=large-v3" json:"beam_asr_model"`
	BeamPollIntervalMs int     `env:"BEAM_POLL_INTERVAL_MS, default=2000" json:"beam_poll_interval_ms" validate:"gte=100"`
	PreferBeamForASR   bool    `env:"ASR_PREFER_BEAM, default=false" json:"asr_prefer_beam"`
	// Files above ASRMaxUploadBytes are split at silences into chunks of
	// about ASRChunkSec before being sent to OpenAI.
	ASRMaxUploadBytes int64 `env:"ASR_MAX_UPLOAD_BYTES, default=25165824" json:"asr_max_upload_bytes" validate:"gte=0"`
	ASRChunkSec       int   `env:"ASR_CHUNK_SEC, default=600" json:"asr_chunk_sec" validate:"gte=0,lte=3600"`

	// Classifier settings
	ClassifierAPIKey      string  `env:"CLASSIFIER_API_KEY" json:"-"` // Masked in JSON
	ClassifierBaseURL     string  `env:"CLASSIFIER_BASE_URL" json:"classifier_base_url,omitempty" validate:"omitempty,url"`
	ClassifierModel       string  `env:"CLASSIFIER_MODEL" json:"classifier_model,omitempty"`
	ClassifierJSONSchema  bool    `env:"CLASSIFIER_JSON_SCHEMA, default=false" json:"classifier_json_schema"`
	ClassifierStrictSpans bool    `env:"CLASSIFIER_STRICT_SPANS, default=false" json:"classifier_strict_spans"`
	ClassifierConcurrency int     `env:"CLASSIFIER_CONCURRENCY, default=4" json:"classifier_concurrency" validate:"gte=1,lte=64"`
	ConfidenceThreshold   float64 `env:"CONFIDENCE_THRESHOLD, default=0.45" json:"confidence_threshold" validate:"gte=0,lte=1"`
	DefaultASRConfidence  float64 `env:"DEFAULT_ASR_CONFIDENCE, default=0.85" json:"default_asr_confidence" validate:"gte=0,lte=1"`
	UseSegmentConfidence  bool    `env:"USE_SEGMENT_CONFIDENCE, default=false" json:"use_segment_confidence"`
	RemovalLabels         string  `env:"REMOVAL_LABELS, default=HATE,EXTREMIST,BOTH" json:"removal_labels"`

	// Diarization settings
	DiarizationEnabled    bool    `env:"DIARIZATION_ENABLED, default=false" json:"diarization_enabled"`
	DiarizationMinOverlap float64 `env:"DIARIZATION_MIN_OVERLAP, default=0.15" json:"diarization_min_overlap" validate:"gte=0"`
	RunPodAPIKey          string  `env:"RUNPOD_API_KEY" json:"-"` // Masked in JSON
	RunPodEndpointID      string  `env:"RUNPOD_ENDPOINT_ID" json:"runpod_endpoint_id,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3Prefix           string `env:"S3_PREFIX, default=sanitized/" json:"s3_prefix"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Observability settings
	MetricsEnabled bool `env:"METRICS_ENABLED, default=true" json:"metrics_enabled"`

	// Logging settings: LogFormat is "json" or "text"; LogLevel is one of
	// "debug", "info", "warn", "error".
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json TEXT JSON"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// BeamEnabled returns true if the Beam faster-whisper queue is configured.
func (c *Config) BeamEnabled() bool {
	return c.BeamToken != "" && c.BeamASRQueueURL != ""
}

// OpenAIEnabled returns true if the OpenAI Whisper backend is configured.
func (c *Config) OpenAIEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !c.OpenAIEnabled() && !c.BeamEnabled() {
		return ErrASRBackendRequired
	}
	if c.ClassifierAPIKey == "" {
		return ErrClassifierAPIKeyRequired
	}
	if c.DiarizationEnabled {
		if c.RunPodAPIKey == "" {
			return ErrRunPodAPIKeyRequired
		}
		if c.RunPodEndpointID == "" {
			return ErrRunPodEndpointIDRequired
		}
	}
	if _, err := c.RemovalLabelList(); err != nil {
		return err
	}
	return nil
}

// RemovalLabelList parses REMOVAL_LABELS. An empty value disables
// redaction and yields an empty, non-nil list.
func (c *Config) RemovalLabelList() ([]classify.Label, error) {
	labels := []classify.Label{}
	for _, part := range strings.Split(c.RemovalLabels, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		label := classify.Label(part)
		if !label.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRemovalLabel, part)
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, ASRModel: %s, Beam: %t, ClassifierModel: %s, Concurrency: %d, Diarization: %t, RunPodEndpointID: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.ASRModel,
		c.BeamEnabled(),
		c.ClassifierModel,
		c.ClassifierConcurrency,
		c.DiarizationEnabled,
		c.RunPodEndpointID,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
