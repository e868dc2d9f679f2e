package pipeline

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/speechguard-api/internal/asr"
	"github.com/maauso/speechguard-api/internal/classify"
)

// Default option values.
const (
	DefaultASRConfidence         = 0.85
	DefaultConfidenceThreshold   = 0.45
	DefaultDiarizationMinOverlap = 0.15
	DefaultConcurrency           = 4
)

// Options configure one pipeline run.
type Options struct {
	// Transcription is passed through to the ASR provider.
	Transcription asr.Options `json:"transcription"`

	// RemovalLabels selects the labels whose segments are cut from the audio.
	// Nil means classify.DefaultRemovalLabels; an empty non-nil slice
	// disables redaction.
	RemovalLabels []classify.Label `json:"removal_labels" validate:"dive,policy_label"`

	// DefaultASRConfidence is the confidence passed to the classifier for
	// every segment, unless UseSegmentConfidence is set and the segment
	// carries its own.
	DefaultASRConfidence float64 `json:"default_asr_confidence" validate:"gte=0,lte=1"`

	// UseSegmentConfidence uses the ASR per-segment confidence where the
	// backend reports one.
	UseSegmentConfidence bool `json:"use_segment_confidence"`

	// ConfidenceThreshold is the confidence below which classification
	// abstains with UNCLEAR_ASR.
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`

	// DiarizationMinOverlap is the minimum overlap in seconds for a speaker
	// to be attributed to a segment.
	DiarizationMinOverlap float64 `json:"diarization_min_overlap" validate:"gte=0"`

	DiarizationEnabled bool `json:"diarization_enabled"`

	// Concurrency bounds in-flight classification calls. Zero means
	// DefaultConcurrency.
	Concurrency int `json:"concurrency" validate:"gte=0,lte=64"`
}

// DefaultOptions returns the recommended run options.
func DefaultOptions() Options {
	return Options{
		RemovalLabels:         append([]classify.Label(nil), classify.DefaultRemovalLabels...),
		DefaultASRConfidence:  DefaultASRConfidence,
		ConfidenceThreshold:   DefaultConfidenceThreshold,
		DiarizationMinOverlap: DefaultDiarizationMinOverlap,
		DiarizationEnabled:    false,
		Concurrency:           DefaultConcurrency,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func optionsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("policy_label", func(fl validator.FieldLevel) bool {
			return classify.Label(fl.Field().String()).Valid()
		})
	})
	return validate
}

// Validate checks option ranges and removal labels.
func (o Options) Validate() error {
	if err := optionsValidator().Struct(o); err != nil {
		return fmt.Errorf("pipeline: invalid options: %w", err)
	}
	return nil
}

// removalSet resolves RemovalLabels.
func (o Options) removalSet() classify.LabelSet {
	if o.RemovalLabels == nil {
		return classify.NewLabelSet(classify.DefaultRemovalLabels...)
	}
	return classify.NewLabelSet(o.RemovalLabels...)
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return o.Concurrency
}
