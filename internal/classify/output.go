package classify

import (
	"fmt"
	"unicode/utf8"
)

// MaxRationaleLen is the maximum rationale length in characters.
const MaxRationaleLen = 500

// Input is the request sent to the classification backend for one segment.
type Input struct {
	SegmentText         string  `json:"segment_text" yaml:"segment_text"`
	SegmentStart        float64 `json:"segment_start" yaml:"segment_start,omitempty"`
	SegmentEnd          float64 `json:"segment_end" yaml:"segment_end,omitempty"`
	ASRMeanConfidence   float64 `json:"asr_mean_confidence" yaml:"asr_mean_confidence"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// EvidenceSpan quotes the part of the segment text that supports a label.
// CharStart and CharEnd are character (not byte) offsets.
type EvidenceSpan struct {
	Quote     string `json:"quote" yaml:"quote"`
	CharStart int    `json:"char_start" yaml:"char_start"`
	CharEnd   int    `json:"char_end" yaml:"char_end"`
}

// Safety records how the label was reached.
type Safety struct {
	UsedASRConfidenceRule bool   `json:"used_asr_confidence_rule" yaml:"used_asr_confidence_rule"`
	Notes                 string `json:"notes" yaml:"notes"`
}

// Output is the classification of one segment.
type Output struct {
	Label     Label          `json:"label" yaml:"label"`
	Rationale string         `json:"rationale" yaml:"rationale"`
	Spans     []EvidenceSpan `json:"spans" yaml:"spans"`
	Safety    Safety         `json:"safety" yaml:"safety"`

	// Degraded is set when the output is a fallback for a failed call.
	Degraded bool `json:"-" yaml:"-"`
}

// Unclear builds the fallback output for a failed classification.
func Unclear(cause error) Output {
	return Output{
		Label:     LabelUnclear,
		Rationale: truncate(fmt.Sprintf("Classification failed due to error: %v", cause), MaxRationaleLen),
		Spans:     []EvidenceSpan{},
		Safety: Safety{
			UsedASRConfidenceRule: false,
			Notes:                 fmt.Sprintf("Error during classification: %v", cause),
		},
		Degraded: true,
	}
}

// UnclearASR builds the abstention output for low-confidence transcription.
func UnclearASR(confidence, threshold float64) Output {
	return Output{
		Label:     LabelUnclearASR,
		Rationale: fmt.Sprintf("ASR confidence %.2f below threshold %.2f", confidence, threshold),
		Spans:     []EvidenceSpan{},
		Safety: Safety{
			UsedASRConfidenceRule: true,
			Notes:                 "Low ASR confidence, abstaining from classification",
		},
	}
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
