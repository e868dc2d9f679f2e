package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/speechguard-api/internal/lazy"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// Compile-time checks.
var (
	_ Provider = (*Chain)(nil)
	_ Provider = (*Lazy)(nil)
)

// Chain tries providers in priority order and returns the first success.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a chain over providers, highest priority first.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}
}

// Name lists the chained providers.
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Transcribe implements Provider. A cancelled context stops the chain
// immediately instead of falling through to the next provider.
func (c *Chain) Transcribe(ctx context.Context, req Request) (*transcript.Transcript, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	errs := []error{ErrAllProvidersFailed}
	for _, p := range c.providers {
		t, err := p.Transcribe(ctx, req)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("asr: %s: %w", p.Name(), err)
		}

		c.logger.Warn("asr provider failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// Lazy builds its provider on first use and reuses it afterwards. A failed
// build is retried on the next call.
type Lazy struct {
	name  string
	value *lazy.Value[Provider]
}

// NewLazy wraps a provider factory.
func NewLazy(name string, build func(ctx context.Context) (Provider, error)) *Lazy {
	return &Lazy{name: name, value: lazy.New(build)}
}

// Name implements Provider.
func (l *Lazy) Name() string { return l.name }

// Transcribe implements Provider.
func (l *Lazy) Transcribe(ctx context.Context, req Request) (*transcript.Transcript, error) {
	p, err := l.value.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("asr: initialize %s: %w", l.name, err)
	}
	return p.Transcribe(ctx, req)
}
