// Package diarize defines the speaker diarization collaborator and its
// RunPod-hosted pyannote backend.
package diarize

import (
	"context"
	"fmt"

	"github.com/maauso/speechguard-api/internal/lazy"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// Provider returns speaker turns for an audio file, sorted by (start, end).
type Provider interface {
	Name() string
	Diarize(ctx context.Context, audioPath string) ([]transcript.SpeakerTurn, error)
}

// Compile-time check that Lazy implements Provider.
var _ Provider = (*Lazy)(nil)

// Lazy builds its provider on first use. A failed build is retried on the
// next call.
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

// Diarize implements Provider.
func (l *Lazy) Diarize(ctx context.Context, audioPath string) ([]transcript.SpeakerTurn, error) {
	p, err := l.value.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("diarize: initialize %s: %w", l.name, err)
	}
	return p.Diarize(ctx, audioPath)
}
