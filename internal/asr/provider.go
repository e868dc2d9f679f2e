// Package asr defines the speech recognition collaborator of the moderation
// pipeline and its backends: an OpenAI Whisper client, a faster-whisper
// worker on Beam, an ordered fallback chain and a lazily built provider.
package asr

import (
	"context"
	"errors"

	"github.com/maauso/speechguard-api/internal/transcript"
)

// Static errors shared by ASR providers.
var (
	// ErrAudioPathRequired is returned when a request has no audio path.
	ErrAudioPathRequired = errors.New("asr: audio path is required")
	// ErrNoProviders is returned by a Chain with nothing to try.
	ErrNoProviders = errors.New("asr: no providers configured")
	// ErrAllProvidersFailed is returned when every provider in a Chain failed.
	ErrAllProvidersFailed = errors.New("asr: all providers failed")
)

// Options tune a single transcription. Nil pointers and empty strings mean
// "use the provider default".
type Options struct {
	Language      string   `json:"language,omitempty" validate:"omitempty,min=2,max=8"`
	Translate     bool     `json:"translate,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
	InitialPrompt string   `json:"initial_prompt,omitempty" validate:"max=2000"`
	BeamSize      *int     `json:"beam_size,omitempty" validate:"omitempty,gte=1,lte=20"`
	BestOf        *int     `json:"best_of,omitempty" validate:"omitempty,gte=1,lte=20"`
}

// Merge fills every option left unset in o from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.Language == "" {
		o.Language = defaults.Language
	}
	if o.Temperature == nil {
		o.Temperature = defaults.Temperature
	}
	if o.InitialPrompt == "" {
		o.InitialPrompt = defaults.InitialPrompt
	}
	if o.BeamSize == nil {
		o.BeamSize = defaults.BeamSize
	}
	if o.BestOf == nil {
		o.BestOf = defaults.BestOf
	}
	return o
}

// Request is one transcription call.
type Request struct {
	AudioPath string
	Options
}

// Provider transcribes an audio file into time-stamped segments.
type Provider interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Transcribe returns a normalized transcript of the audio at req.AudioPath.
	Transcribe(ctx context.Context, req Request) (*transcript.Transcript, error)
}
