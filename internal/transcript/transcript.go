// Package transcript holds the post-ASR data model: time-stamped segments,
// diarized speaker turns and the transcript that groups them.
package transcript

import (
	"sort"
	"strings"
)

// Segment is one time-stamped unit of transcript text produced by ASR.
// Segments are ordered by Start and Index is a dense 0-based sequence.
// Speaker is filled in by AssignSpeakers; the empty string means unset.
type Segment struct {
	Index      int      `json:"index"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"-"`
}

// Duration returns the segment length in seconds, never negative.
func (s Segment) Duration() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// SpeakerTurn is one diarized interval attributed to a single speaker.
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Transcript is the output of an ASR backend.
type Transcript struct {
	Text     string
	Language string
	Segments []Segment
	// Duration is the audio length in seconds; 0 when unknown.
	Duration float64
	Model    string
}

// Normalize enforces the segment invariants in place: segments sorted by
// start, End >= Start, Index dense from zero. Text is rebuilt from the
// segments when empty and Duration falls back to the last segment end.
func (t *Transcript) Normalize() {
	sort.SliceStable(t.Segments, func(i, j int) bool {
		return t.Segments[i].Start < t.Segments[j].Start
	})
	for i := range t.Segments {
		seg := &t.Segments[i]
		seg.Index = i
		if seg.Start < 0 {
			seg.Start = 0
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
	}

	if strings.TrimSpace(t.Text) == "" {
		t.Text = JoinText(t.Segments)
	} else {
		t.Text = strings.TrimSpace(t.Text)
	}

	if t.Duration <= 0 && len(t.Segments) > 0 {
		t.Duration = t.Segments[len(t.Segments)-1].End
	}
}

// JoinText joins the non-empty trimmed segment texts with single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// SortTurns orders turns by start then end.
func SortTurns(turns []SpeakerTurn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Start != turns[j].Start {
			return turns[i].Start < turns[j].Start
		}
		return turns[i].End < turns[j].End
	})
}
