package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlap(t *testing.T) {
	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd float64
		want                       float64
	}{
		{"contained", 0, 2, 0.5, 1, 0.5},
		{"partial", 0, 2, 1.6, 3, 0.4},
		{"disjoint", 0, 1, 2, 3, 0},
		{"touching", 0, 1, 1, 2, 0},
		{"zero length", 1, 1, 0, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Overlap(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd), 1e-9)
		})
	}
}

func TestAssignSpeakers_LargestOverlapWins(t *testing.T) {
	segments := []Segment{{Index: 0, Start: 0, End: 2, Text: "hello"}}
	turns := []SpeakerTurn{
		{Speaker: "A", Start: 0, End: 1.6},
		{Speaker: "B", Start: 1.6, End: 3.0},
	}

	AssignSpeakers(segments, turns, 0)

	assert.Equal(t, "A", segments[0].Speaker)
}

func TestAssignSpeakers_BelowMinOverlapClears(t *testing.T) {
	segments := []Segment{{Index: 0, Start: 0, End: 2, Speaker: "stale"}}
	turns := []SpeakerTurn{
		{Speaker: "A", Start: 0, End: 1.6},
		{Speaker: "B", Start: 1.6, End: 3.0},
	}

	AssignSpeakers(segments, turns, 1.7)

	assert.Empty(t, segments[0].Speaker)
}

func TestAssignSpeakers_TieGoesToFirstTurn(t *testing.T) {
	segments := []Segment{{Start: 1, End: 3}}
	turns := []SpeakerTurn{
		{Speaker: "A", Start: 0, End: 2},
		{Speaker: "B", Start: 2, End: 4},
	}

	AssignSpeakers(segments, turns, 0)

	assert.Equal(t, "A", segments[0].Speaker)
}

func TestAssignSpeakers_NoTurnsLeavesSegmentsUntouched(t *testing.T) {
	segments := []Segment{{Start: 0, End: 1, Speaker: "existing"}}

	AssignSpeakers(segments, nil, 0.15)

	assert.Equal(t, "existing", segments[0].Speaker)
}

func TestAssignSpeakers_ZeroLengthInputs(t *testing.T) {
	segments := []Segment{
		{Index: 0, Start: 1, End: 1},
		{Index: 1, Start: 2, End: 4},
	}
	turns := []SpeakerTurn{
		{Speaker: "A", Start: 1, End: 1},
		{Speaker: "B", Start: 2, End: 2},
		{Speaker: "C", Start: 3, End: 5},
	}

	assert.NotPanics(t, func() { AssignSpeakers(segments, turns, 0) })
	assert.Empty(t, segments[0].Speaker)
	assert.Equal(t, "C", segments[1].Speaker)
}

func TestAssignSpeakers_NoOverlapNeverAssigns(t *testing.T) {
	segments := []Segment{{Start: 10, End: 12}}
	turns := []SpeakerTurn{{Speaker: "A", Start: 0, End: 5}}

	AssignSpeakers(segments, turns, 0)

	assert.Empty(t, segments[0].Speaker)
}
