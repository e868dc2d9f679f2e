package pipeline

import (
	"errors"
	"fmt"

	"github.com/maauso/speechguard-api/internal/classify"
	"github.com/maauso/speechguard-api/internal/redact"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// Stage is one step of a pipeline run.
type Stage string

// Pipeline stages in execution order.
const (
	StageTranscribe   Stage = "transcribe"
	StageDiarize      Stage = "diarize"
	StageAssign       Stage = "assign"
	StageClassify     Stage = "classify"
	StageCollectFlags Stage = "collect_flags"
	StageRedact       Stage = "redact"
	StageAssemble     Stage = "assemble"
)

// Fatal run errors. A returned *Error wraps one of them.
var (
	// ErrTranscription is returned when the ASR provider fails.
	ErrTranscription = errors.New("pipeline: transcription failed")
	// ErrRedaction is returned when redaction is required but cannot be done.
	ErrRedaction = errors.New("pipeline: redaction failed")
)

// Error is a fatal run error tagged with the stage that produced it.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Diarization outcomes.
const (
	DiarizationDisabled  = "disabled"
	DiarizationCompleted = "completed"
	DiarizationFailed    = "failed"
)

// DiarizationReport describes what the diarization step did.
type DiarizationReport struct {
	Status   string `json:"status"`
	Provider string `json:"provider,omitempty"`
	Turns    int    `json:"turns"`
	Error    string `json:"error,omitempty"`
}

// ClassifiedSegment is a segment with its classification.
type ClassifiedSegment struct {
	transcript.Segment
	Classification classify.Output `json:"classification"`
}

// Summary aggregates the classifications of a run.
type Summary struct {
	TotalSegments    int                    `json:"total_segments"`
	FlaggedSegments  int                    `json:"flagged_segments"`
	FlaggedIndexes   []int                  `json:"flagged_indexes"`
	DegradedSegments int                    `json:"degraded_segments"`
	LabelCounts      map[classify.Label]int `json:"label_counts"`
	// MaxSeverity is the highest severity among flagged segments, low when
	// nothing was flagged.
	MaxSeverity classify.Severity `json:"max_severity"`
}

// Result is the outcome of a successful run.
type Result struct {
	Transcript string              `json:"transcript"`
	Language   string              `json:"language"`
	Duration   float64             `json:"duration"`
	Model      string              `json:"model"`
	Segments   []ClassifiedSegment `json:"segments"`

	// SanitizedAudio is nil when nothing required redaction and empty when
	// every frame was removed.
	SanitizedAudio []byte `json:"-"`
	ContentType    string `json:"content_type,omitempty"`

	RemovedIntervals []redact.Interval `json:"removed_intervals"`
	Summary          Summary           `json:"summary"`
	Diarization      DiarizationReport `json:"diarization"`

	// Stages lists the stages executed, in order.
	Stages []Stage `json:"stages"`
}

// Redacted reports whether the run produced sanitized audio.
func (r *Result) Redacted() bool {
	return r.SanitizedAudio != nil
}

func summarize(segments []ClassifiedSegment, removal classify.LabelSet) Summary {
	s := Summary{
		TotalSegments:  len(segments),
		FlaggedIndexes: []int{},
		LabelCounts:    make(map[classify.Label]int),
		MaxSeverity:    classify.SeverityLow,
	}
	for _, seg := range segments {
		label := seg.Classification.Label
		s.LabelCounts[label]++
		if seg.Classification.Degraded {
			s.DegradedSegments++
		}
		if !removal.Has(label) {
			continue
		}
		s.FlaggedSegments++
		s.FlaggedIndexes = append(s.FlaggedIndexes, seg.Index)
		if severityRank(label.Severity()) > severityRank(s.MaxSeverity) {
			s.MaxSeverity = label.Severity()
		}
	}
	return s
}

func severityRank(s classify.Severity) int {
	switch s {
	case classify.SeverityHigh:
		return 2
	case classify.SeverityMedium:
		return 1
	default:
		return 0
	}
}
