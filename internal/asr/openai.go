package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/maauso/speechguard-api/internal/transcript"
)

// DefaultOpenAIModel is the Whisper model used when none is configured.
const DefaultOpenAIModel = "whisper-1"

// ErrOpenAIKeyRequired is returned when no API key is configured.
var ErrOpenAIKeyRequired = errors.New("asr: openai api key is required")

// OpenAIConfig configures the OpenAI Whisper backend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible audio API; empty means OpenAI.
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
	// Defaults fill options a request leaves unset.
	Defaults Options
	Logger   *slog.Logger
}

// Compile-time check that OpenAI implements Provider.
var _ Provider = (*OpenAI)(nil)

// OpenAI transcribes through the Whisper audio endpoints. Translate requests
// use the translations endpoint, which always produces English.
type OpenAI struct {
	client   oai.Client
	model    string
	defaults Options
	logger   *slog.Logger
}

// NewOpenAI creates the Whisper backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrOpenAIKeyRequired
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.HTTPClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.Timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &OpenAI{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.Model,
		defaults: cfg.Defaults,
		logger:   cfg.Logger,
	}, nil
}

// Name implements Provider.
func (p *OpenAI) Name() string { return "openai" }

// Transcribe implements Provider. BeamSize and BestOf are not supported by
// the API and are ignored.
func (p *OpenAI) Transcribe(ctx context.Context, req Request) (*transcript.Transcript, error) {
	if req.AudioPath == "" {
		return nil, ErrAudioPathRequired
	}
	opts := req.Options.Merge(p.defaults)

	f, err := os.Open(req.AudioPath) // #nosec G304 - path is a server-managed temp file
	if err != nil {
		return nil, fmt.Errorf("asr: open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	p.logger.Debug("starting whisper transcription",
		slog.String("model", p.model),
		slog.String("language", opts.Language),
		slog.Bool("translate", opts.Translate),
	)

	var raw string
	if opts.Translate {
		params := oai.AudioTranslationNewParams{
			File:           f,
			Model:          oai.AudioModel(p.model),
			ResponseFormat: oai.AudioTranslationNewParamsResponseFormatVerboseJSON,
		}
		if opts.InitialPrompt != "" {
			params.Prompt = param.NewOpt(opts.InitialPrompt)
		}
		if opts.Temperature != nil {
			params.Temperature = param.NewOpt(*opts.Temperature)
		}
		resp, err := p.client.Audio.Translations.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("asr: openai translation: %w", err)
		}
		raw = resp.RawJSON()
	} else {
		params := oai.AudioTranscriptionNewParams{
			File:           f,
			Model:          oai.AudioModel(p.model),
			ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		}
		if opts.Language != "" {
			params.Language = param.NewOpt(opts.Language)
		}
		if opts.InitialPrompt != "" {
			params.Prompt = param.NewOpt(opts.InitialPrompt)
		}
		if opts.Temperature != nil {
			params.Temperature = param.NewOpt(*opts.Temperature)
		}
		resp, err := p.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("asr: openai transcription: %w", err)
		}
		raw = resp.RawJSON()
	}

	requested := opts.Language
	if opts.Translate {
		requested = "en"
	}
	return parseVerbose([]byte(raw), p.model, requested)
}
