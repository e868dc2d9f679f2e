// Package classify implements the per-segment content-policy classifier.
//
// Classification is a total operation: Classifier.Classify has no error
// return. Backend, parse and schema failures are folded into an UNCLEAR
// Output that carries the cause in its rationale and safety notes.
package classify

// Label is one of the closed set of policy labels.
type Label string

// Policy labels.
const (
	LabelNone       Label = "NONE"
	LabelProfanity  Label = "PROFANITY"
	LabelHate       Label = "HATE"
	LabelExtremist  Label = "EXTREMIST"
	LabelBoth       Label = "BOTH"
	LabelUnclear    Label = "UNCLEAR"
	LabelUnclearASR Label = "UNCLEAR_ASR"
)

// Labels lists every label in policy order.
var Labels = []Label{
	LabelNone,
	LabelProfanity,
	LabelHate,
	LabelExtremist,
	LabelBoth,
	LabelUnclear,
	LabelUnclearASR,
}

// DefaultRemovalLabels are the labels whose segments are cut from the audio
// unless configured otherwise.
var DefaultRemovalLabels = []Label{LabelHate, LabelExtremist, LabelBoth}

// Valid reports whether l is in the closed label set.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Severity grades a label for reporting.
type Severity string

// Severity levels.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severity returns the reporting severity of l.
func (l Label) Severity() Severity {
	switch l {
	case LabelHate, LabelExtremist, LabelBoth:
		return SeverityHigh
	case LabelProfanity:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// LabelSet is a set of labels.
type LabelSet map[Label]struct{}

// NewLabelSet builds a set from labels.
func NewLabelSet(labels ...Label) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Has reports whether l is in the set.
func (s LabelSet) Has(l Label) bool {
	_, ok := s[l]
	return ok
}
