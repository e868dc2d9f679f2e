package redact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/maauso/speechguard-api/internal/media"
)

// Static errors for redaction.
var (
	// ErrUnknownSampleRate is returned when the source audio has no sample rate.
	ErrUnknownSampleRate = errors.New("redact: source sample rate is unknown")
	// ErrUnknownDuration is returned when neither the caller nor the probe knows the duration.
	ErrUnknownDuration = errors.New("redact: source duration is unknown")
)

// wavContentType is the content type of spliced output.
const wavContentType = "audio/wav"

// Redaction is the outcome of a Redact call.
type Redaction struct {
	// Audio is the sanitized audio. It is the untouched source when nothing
	// was flagged and a zero-frame WAV when everything was.
	Audio []byte
	// ContentType is the MIME type of Audio.
	ContentType string
	// Removed is the merged list of flagged intervals in seconds.
	Removed []Interval
	// Kept lists the retained ranges in seconds, in output order.
	Kept []Interval
	// Modified is false when Audio is the source returned as is.
	Modified bool
}

// Redactor removes flagged intervals from audio files.
type Redactor struct {
	processor media.Processor
	tempDir   string
	logger    *slog.Logger
}

// Option configures a Redactor.
type Option func(*Redactor)

// WithTempDir sets where intermediate spliced files are written.
func WithTempDir(dir string) Option {
	return func(r *Redactor) {
		r.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Redactor) {
		r.logger = l
	}
}

// NewRedactor creates a Redactor backed by the given media processor.
func NewRedactor(processor media.Processor, opts ...Option) *Redactor {
	r := &Redactor{
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Redact cuts flagged out of the audio at audioPath.
//
// An empty flagged list returns the source bytes unmodified. Otherwise the
// intervals are merged, converted to frames at the source sample rate
// (flooring both ends), inverted against the total frame count and the
// remaining frames are spliced into a WAV. When every frame is flagged the
// result is a header-only WAV with zero frames. The audio is inverted over
// the longer of duration and the probed length, so a duration estimated
// from the last transcript segment never drops trailing audio.
func (r *Redactor) Redact(ctx context.Context, audioPath string, duration float64, flagged []Interval) (*Redaction, error) {
	merged := Merge(flagged)
	if len(merged) == 0 {
		data, err := os.ReadFile(audioPath) // #nosec G304 - path is provided by trusted caller
		if err != nil {
			return nil, fmt.Errorf("redact: read source: %w", err)
		}
		return &Redaction{
			Audio:       data,
			ContentType: media.DetectContentType(data),
		}, nil
	}

	info, err := r.processor.Probe(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("redact: probe source: %w", err)
	}
	if info.SampleRate <= 0 {
		return nil, ErrUnknownSampleRate
	}
	duration = math.Max(duration, info.Duration)
	if duration <= 0 {
		return nil, ErrUnknownDuration
	}

	rate := info.SampleRate
	frames := make([]FrameRange, len(merged))
	for i, iv := range merged {
		frames[i] = ToFrames(iv, rate)
	}
	keepFrames := InvertFrames(MergeFrames(frames), SecondsToFrames(duration, rate))

	kept := make([]Interval, len(keepFrames))
	for i, f := range keepFrames {
		kept[i] = ToSeconds(f, rate)
	}

	r.logger.Debug("redacting audio",
		slog.String("path", audioPath),
		slog.Int("removed_intervals", len(merged)),
		slog.Int("kept_ranges", len(keepFrames)),
		slog.Int("sample_rate", rate),
	)

	if len(keepFrames) == 0 {
		return &Redaction{
			Audio:       media.EmptyWAV(rate, info.Channels),
			ContentType: wavContentType,
			Removed:     merged,
			Modified:    true,
		}, nil
	}

	out, err := os.CreateTemp(r.tempDir, "redacted_*.wav")
	if err != nil {
		return nil, fmt.Errorf("redact: create output file: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()
	defer func() { _ = os.Remove(outPath) }()

	ranges := make([]media.SampleRange, len(keepFrames))
	for i, f := range keepFrames {
		ranges[i] = media.SampleRange{Start: f.Start, End: f.End}
	}
	if err := r.processor.Splice(ctx, audioPath, outPath, ranges, rate); err != nil {
		return nil, fmt.Errorf("redact: splice: %w", err)
	}

	data, err := os.ReadFile(outPath) // #nosec G304 - path created above
	if err != nil {
		return nil, fmt.Errorf("redact: read spliced output: %w", err)
	}

	return &Redaction{
		Audio:       data,
		ContentType: wavContentType,
		Removed:     merged,
		Kept:        kept,
		Modified:    true,
	}, nil
}
