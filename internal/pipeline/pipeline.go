// Package pipeline runs moderation end to end: transcription, optional
// diarization and speaker assignment, per-segment classification and
// redaction of flagged spans.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/speechguard-api/internal/asr"
	"github.com/maauso/speechguard-api/internal/classify"
	"github.com/maauso/speechguard-api/internal/diarize"
	"github.com/maauso/speechguard-api/internal/observe"
	"github.com/maauso/speechguard-api/internal/redact"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// ErrNoRedactor is wrapped in ErrRedaction when segments were flagged but
// the pipeline has no redactor.
var ErrNoRedactor = errors.New("pipeline: no redactor configured")

// Redactor cuts flagged intervals out of an audio file.
type Redactor interface {
	Redact(ctx context.Context, audioPath string, duration float64, flagged []redact.Interval) (*redact.Redaction, error)
}

// Compile-time check that redact.Redactor satisfies Redactor.
var _ Redactor = (*redact.Redactor)(nil)

// ModerationPipeline wires the moderation collaborators. It holds no
// per-run state and is safe for concurrent runs.
type ModerationPipeline struct {
	transcriber asr.Provider
	diarizer    diarize.Provider
	classifier  classify.Classifier
	redactor    Redactor
	metrics     *observe.Metrics
	logger      *slog.Logger
}

// Option configures a ModerationPipeline.
type Option func(*ModerationPipeline)

// WithDiarizer sets the diarization provider used when a run enables it.
func WithDiarizer(d diarize.Provider) Option {
	return func(p *ModerationPipeline) {
		p.diarizer = d
	}
}

// WithRedactor sets the redactor.
func WithRedactor(r Redactor) Option {
	return func(p *ModerationPipeline) {
		p.redactor = r
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *ModerationPipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *ModerationPipeline) {
		p.logger = l
	}
}

// New creates a pipeline. transcriber and classifier are required.
func New(transcriber asr.Provider, classifier classify.Classifier, opts ...Option) *ModerationPipeline {
	p := &ModerationPipeline{
		transcriber: transcriber,
		classifier:  classifier,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run tracks the stages of one invocation.
type run struct {
	p      *ModerationPipeline
	stages []Stage
	logger *slog.Logger
}

func (r *run) enter(ctx context.Context, stage Stage) func() {
	r.stages = append(r.stages, stage)
	start := time.Now()
	return func() {
		r.p.metrics.RecordStage(ctx, string(stage), start)
	}
}

// Run moderates the audio at audioPath.
//
// Transcription failure and a required redaction that cannot be performed
// are fatal and returned as *Error. Classification failures are folded into
// UNCLEAR outputs and diarization failures leave speakers unset; neither
// aborts the run.
func (p *ModerationPipeline) Run(ctx context.Context, audioPath string, opts Options) (result *Result, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.Run")
	defer func() {
		observe.EndSpan(span, err)
		status := "completed"
		if err != nil {
			status = "failed"
		}
		p.metrics.RecordRun(ctx, status)
	}()

	r := &run{p: p, logger: observe.Logger(ctx, p.logger).With(slog.String("audio_path", audioPath))}

	tr, err := r.transcribe(ctx, audioPath, opts.Transcription)
	if err != nil {
		return nil, err
	}

	report := r.diarize(ctx, audioPath, tr.Segments, opts)

	classified := r.classify(ctx, tr.Segments, opts)

	done := r.enter(ctx, StageCollectFlags)
	removal := opts.removalSet()
	var flagged []redact.Interval
	for _, seg := range classified {
		if removal.Has(seg.Classification.Label) {
			flagged = append(flagged, redact.Interval{Start: seg.Start, End: seg.End})
		}
	}
	done()

	result = &Result{
		Transcript:       tr.Text,
		Language:         tr.Language,
		Duration:         tr.Duration,
		Model:            tr.Model,
		Segments:         classified,
		RemovedIntervals: []redact.Interval{},
		Diarization:      report,
	}

	if len(flagged) > 0 {
		if err := r.redact(ctx, audioPath, tr.Duration, flagged, result); err != nil {
			return nil, err
		}
	}

	done = r.enter(ctx, StageAssemble)
	result.Summary = summarize(classified, removal)
	result.Stages = r.stages
	done()

	r.logger.Info("moderation completed",
		slog.Int("segments", result.Summary.TotalSegments),
		slog.Int("flagged", result.Summary.FlaggedSegments),
		slog.Int("degraded", result.Summary.DegradedSegments),
		slog.Int("removed_intervals", len(result.RemovedIntervals)),
		slog.String("diarization", report.Status),
	)
	return result, nil
}

func (r *run) transcribe(ctx context.Context, audioPath string, opts asr.Options) (*transcript.Transcript, error) {
	defer r.enter(ctx, StageTranscribe)()

	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	tr, err := r.p.transcriber.Transcribe(ctx, asr.Request{AudioPath: audioPath, Options: opts})
	if err == nil && tr == nil {
		err = errors.New("provider returned no transcript")
	}
	observe.EndSpan(span, err)
	if err != nil {
		r.logger.Error("transcription failed",
			slog.String("provider", r.p.transcriber.Name()),
			slog.String("error", err.Error()),
		)
		return nil, &Error{Stage: StageTranscribe, Err: fmt.Errorf("%w: %w", ErrTranscription, err)}
	}

	tr.Normalize()
	r.logger.Info("transcription completed",
		slog.String("provider", r.p.transcriber.Name()),
		slog.Int("segments", len(tr.Segments)),
		slog.String("language", tr.Language),
		slog.Float64("duration", tr.Duration),
	)
	return tr, nil
}

// diarize attributes speakers to segments in place. Failures are reported,
// never returned.
func (r *run) diarize(ctx context.Context, audioPath string, segments []transcript.Segment, opts Options) DiarizationReport {
	if !opts.DiarizationEnabled {
		return DiarizationReport{Status: DiarizationDisabled}
	}

	done := r.enter(ctx, StageDiarize)
	report := DiarizationReport{Status: DiarizationFailed}

	if r.p.diarizer == nil {
		done()
		report.Error = "no diarization provider configured"
		r.logger.Warn("diarization requested but unavailable")
		r.p.metrics.RecordDiarizationFailure(ctx, "none")
		return report
	}
	report.Provider = r.p.diarizer.Name()

	spanCtx, span := observe.StartSpan(ctx, "pipeline.diarize")
	turns, err := r.p.diarizer.Diarize(spanCtx, audioPath)
	observe.EndSpan(span, err)
	done()

	if err != nil {
		report.Error = err.Error()
		r.logger.Warn("diarization failed, continuing without speakers",
			slog.String("provider", report.Provider),
			slog.String("error", err.Error()),
		)
		r.p.metrics.RecordDiarizationFailure(ctx, report.Provider)
		for i := range segments {
			segments[i].Speaker = ""
		}
		return report
	}

	defer r.enter(ctx, StageAssign)()
	transcript.AssignSpeakers(segments, turns, opts.DiarizationMinOverlap)

	report.Status = DiarizationCompleted
	report.Turns = len(turns)
	return report
}

func (r *run) classify(ctx context.Context, segments []transcript.Segment, opts Options) []ClassifiedSegment {
	defer r.enter(ctx, StageClassify)()

	ctx, span := observe.StartSpan(ctx, "pipeline.classify")
	defer span.End()

	inputs := make([]classify.Input, len(segments))
	for i, seg := range segments {
		conf := opts.DefaultASRConfidence
		if opts.UseSegmentConfidence && seg.Confidence != nil {
			conf = *seg.Confidence
		}
		inputs[i] = classify.Input{
			SegmentText:         seg.Text,
			SegmentStart:        seg.Start,
			SegmentEnd:          seg.End,
			ASRMeanConfidence:   conf,
			ConfidenceThreshold: opts.ConfidenceThreshold,
		}
	}

	outputs := classify.ClassifyConcurrent(ctx, r.p.classifier, inputs, opts.concurrency())

	classified := make([]ClassifiedSegment, len(segments))
	for i, seg := range segments {
		classified[i] = ClassifiedSegment{Segment: seg, Classification: outputs[i]}
		r.p.metrics.RecordClassification(ctx, string(outputs[i].Label), outputs[i].Degraded)
		if outputs[i].Degraded {
			r.logger.Warn("classification degraded",
				slog.Int("segment", seg.Index),
				slog.String("notes", outputs[i].Safety.Notes),
			)
		}
	}
	return classified
}

func (r *run) redact(ctx context.Context, audioPath string, duration float64, flagged []redact.Interval, result *Result) error {
	defer r.enter(ctx, StageRedact)()

	if r.p.redactor == nil {
		return &Error{Stage: StageRedact, Err: fmt.Errorf("%w: %w", ErrRedaction, ErrNoRedactor)}
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.redact")
	red, err := r.p.redactor.Redact(ctx, audioPath, duration, flagged)
	observe.EndSpan(span, err)
	if err != nil {
		r.logger.Error("redaction failed", slog.String("error", err.Error()))
		return &Error{Stage: StageRedact, Err: fmt.Errorf("%w: %w", ErrRedaction, err)}
	}

	result.SanitizedAudio = red.Audio
	if result.SanitizedAudio == nil {
		result.SanitizedAudio = []byte{}
	}
	result.ContentType = red.ContentType
	if red.Removed != nil {
		result.RemovedIntervals = red.Removed
	}

	removed := redact.TotalLen(red.Removed)
	r.p.metrics.RecordRedacted(ctx, removed)
	r.logger.Info("audio redacted",
		slog.Int("removed_intervals", len(red.Removed)),
		slog.Float64("removed_seconds", removed),
		slog.Int("bytes", len(red.Audio)),
	)
	return nil
}
