// Package openai provides a classification backend for any OpenAI-compatible
// chat completions API. Groq is the default endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/maauso/speechguard-api/internal/classify"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "llama-3.3-70b-versatile"
)

// Static errors for the backend.
var (
	// ErrMissingAPIKey is returned when no API key is supplied.
	ErrMissingAPIKey = errors.New("openai: apiKey must not be empty")
	// ErrNoChoices is returned when the response carries no choices.
	ErrNoChoices = errors.New("openai: empty choices in response")
)

// Compile-time check that Backend implements classify.Backend.
var _ classify.Backend = (*Backend)(nil)

// Backend implements classify.Backend over chat completions.
type Backend struct {
	client     oai.Client
	model      string
	jsonSchema bool
}

type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	maxRetries int
	jsonSchema bool
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets how many times the SDK retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithJSONSchema requests strict JSON-schema output instead of plain JSON
// object mode. Not every OpenAI-compatible server supports it.
func WithJSONSchema(enabled bool) Option {
	return func(c *config) {
		c.jsonSchema = enabled
	}
}

// New constructs a Backend. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{baseURL: DefaultBaseURL, maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithMaxRetries(cfg.maxRetries),
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Backend{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		jsonSchema: cfg.jsonSchema,
	}, nil
}

// Model returns the configured model name.
func (b *Backend) Model() string { return b.model }

// Complete implements classify.Backend.
func (b *Backend) Complete(ctx context.Context, req classify.CompletionRequest) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, b.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// buildParams converts a CompletionRequest into SDK params. Sampling
// parameters are always sent, including zero values.
func (b *Backend) buildParams(req classify.CompletionRequest) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(req.SystemPrompt),
			oai.UserMessage(req.UserPrompt),
		},
		Temperature: param.NewOpt(req.Temperature),
		TopP:        param.NewOpt(req.TopP),
		Seed:        param.NewOpt(req.Seed),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	if b.jsonSchema && req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.Schema,
					Strict: param.NewOpt(true),
				},
			},
		}
	} else {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}
