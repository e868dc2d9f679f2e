package classify

import (
	"context"
	"fmt"
	"log/slog"
)

// Request parameters pinned so identical input yields identical requests.
const (
	Temperature = 0.0
	TopP        = 0.0
	MaxTokens   = 256
	Seed        = 42
)

// Classifier labels one transcript segment. Implementations never fail:
// every error is reported as an UNCLEAR Output.
type Classifier interface {
	Classify(ctx context.Context, in Input) Output
}

// CompletionRequest is a single chat completion request.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	Seed         int64
	// Schema, when set, asks the backend to constrain output to it.
	Schema     map[string]any
	SchemaName string
}

// Backend sends a completion request to a language model and returns the
// raw text of the first choice.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Compile-time check that LLMClassifier implements Classifier.
var _ Classifier = (*LLMClassifier)(nil)

// LLMClassifier classifies segments with a language model under a fixed policy.
type LLMClassifier struct {
	backend      Backend
	policy       *Policy
	systemPrompt string
	strictSpans  bool
	logger       *slog.Logger
}

// Option configures an LLMClassifier.
type Option func(*LLMClassifier)

// WithPolicy replaces the built-in policy.
func WithPolicy(p *Policy) Option {
	return func(c *LLMClassifier) {
		c.policy = p
	}
}

// WithStrictSpans rejects outputs whose evidence quotes do not match the
// segment text at their offsets.
func WithStrictSpans(enabled bool) Option {
	return func(c *LLMClassifier) {
		c.strictSpans = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *LLMClassifier) {
		c.logger = l
	}
}

// NewLLMClassifier creates a classifier on top of backend.
func NewLLMClassifier(backend Backend, opts ...Option) *LLMClassifier {
	c := &LLMClassifier{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = DefaultPolicy()
	}
	c.systemPrompt = c.policy.SystemPrompt()
	return c
}

// SystemPrompt returns the system message sent with every request.
func (c *LLMClassifier) SystemPrompt() string {
	return c.systemPrompt
}

// Classify labels one segment. Segments whose ASR confidence is below the
// threshold are labelled UNCLEAR_ASR without calling the backend.
func (c *LLMClassifier) Classify(ctx context.Context, in Input) (out Output) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classifier panic recovered", slog.Any("panic", r))
			out = Unclear(fmt.Errorf("panic: %v", r))
		}
	}()

	if in.ASRMeanConfidence < in.ConfidenceThreshold {
		return UnclearASR(in.ASRMeanConfidence, in.ConfidenceThreshold)
	}

	out, err := c.classify(ctx, in)
	if err != nil {
		c.logger.Warn("classification degraded",
			slog.Float64("segment_start", in.SegmentStart),
			slog.Float64("segment_end", in.SegmentEnd),
			slog.String("error", err.Error()),
		)
		return Unclear(err)
	}
	return out
}

func (c *LLMClassifier) classify(ctx context.Context, in Input) (Output, error) {
	user, err := UserPrompt(in)
	if err != nil {
		return Output{}, err
	}

	text, err := c.backend.Complete(ctx, CompletionRequest{
		SystemPrompt: c.systemPrompt,
		UserPrompt:   user,
		Temperature:  Temperature,
		TopP:         TopP,
		MaxTokens:    MaxTokens,
		Seed:         Seed,
		Schema:       OutputSchema(),
		SchemaName:   "segment_classification",
	})
	if err != nil {
		return Output{}, err
	}

	out, err := ParseOutput(text)
	if err != nil {
		return Output{}, err
	}

	if c.strictSpans {
		if err := VerifySpans(in.SegmentText, out.Spans); err != nil {
			return Output{}, err
		}
	}
	return out, nil
}
