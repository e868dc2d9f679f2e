package bootstrap

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechguard-api/internal/classify"
	"github.com/maauso/speechguard-api/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                  8080,
		RunTimeout:            time.Minute,
		TempDir:               t.TempDir(),
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		OpenAIAPIKey:          "sk-test",
		ASRModel:              "whisper-1",
		ASRBeamSize:           5,
		ASRBestOf:             5,
		BeamPollIntervalMs:    2000,
		ClassifierAPIKey:      "gsk-test",
		ClassifierConcurrency: 2,
		ConfidenceThreshold:   0.5,
		DefaultASRConfidence:  0.9,
		RemovalLabels:         "HATE,PROFANITY",
		DiarizationMinOverlap: 0.2,
		LogFormat:             "text",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.DiarizationEnabled = true
	cfg.UseSegmentConfidence = true

	opts, err := DefaultOptions(cfg)
	require.NoError(t, err)

	assert.Equal(t, []classify.Label{classify.LabelHate, classify.LabelProfanity}, opts.RemovalLabels)
	assert.InDelta(t, 0.5, opts.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.9, opts.DefaultASRConfidence, 1e-9)
	assert.InDelta(t, 0.2, opts.DiarizationMinOverlap, 1e-9)
	assert.Equal(t, 2, opts.Concurrency)
	assert.True(t, opts.DiarizationEnabled)
	assert.True(t, opts.UseSegmentConfidence)
}

func TestDefaultOptions_UnknownLabel(t *testing.T) {
	cfg := testConfig(t)
	cfg.RemovalLabels = "SPAM"

	_, err := DefaultOptions(cfg)
	assert.ErrorIs(t, err, config.ErrUnknownRemovalLabel)
}

func TestNewDependencies_LocalStorage(t *testing.T) {
	deps, err := NewDependencies(testConfig(t), discardLogger(), nil)
	require.NoError(t, err)

	assert.NotNil(t, deps.Pipeline)
	assert.NotNil(t, deps.Service)
	assert.NotNil(t, deps.Repository)
	assert.Nil(t, deps.Metrics)
}

func TestInitASR(t *testing.T) {
	t.Run("openai only", func(t *testing.T) {
		p, err := initASR(testConfig(t), discardLogger())
		require.NoError(t, err)
		assert.Equal(t, "chain(openai)", p.Name())
	})

	t.Run("beam preferred", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.BeamToken = "token"
		cfg.BeamASRQueueURL = "https://api.beam.cloud/v1/task_queue/123/tasks"
		cfg.PreferBeamForASR = true

		p, err := initASR(cfg, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, "chain(beam,openai)", p.Name())
	})

	t.Run("no backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.OpenAIAPIKey = ""

		_, err := initASR(cfg, discardLogger())
		assert.ErrorIs(t, err, config.ErrASRBackendRequired)
	})
}

func TestNewPipeline_MissingClassifierKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.ClassifierAPIKey = ""

	_, err := NewPipeline(cfg, discardLogger(), nil)
	assert.Error(t, err)
}
