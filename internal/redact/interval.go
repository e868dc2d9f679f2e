// Package redact implements the interval algebra used to cut flagged time
// ranges out of an audio track: merging flagged intervals, inverting them
// against the total duration and splicing the remaining audio.
package redact

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Interval is a time range in seconds. It serializes as [start, end].
type Interval struct {
	Start float64
	End   float64
}

// Len returns End - Start, never negative.
func (iv Interval) Len() float64 {
	return max(0, iv.End-iv.Start)
}

// MarshalJSON encodes the interval as a two element array.
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{iv.Start, iv.End})
}

// UnmarshalJSON decodes a two element array.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("redact: interval must have 2 elements, got %d", len(pair))
	}
	iv.Start, iv.End = pair[0], pair[1]
	return nil
}

// FrameRange is a half-open [Start, End) range of sample frames.
type FrameRange struct {
	Start int64
	End   int64
}

// Len returns End - Start, never negative.
func (r FrameRange) Len() int64 {
	return max(0, r.End-r.Start)
}

type bound interface {
	~int64 | ~float64
}

type span[T bound] struct {
	start, end T
}

// mergeSpans sorts by start, clamps negative starts to zero and ends below
// their start, then folds every span whose start is <= the current end into
// the current run. Touching spans are merged.
func mergeSpans[T bound](in []span[T]) []span[T] {
	if len(in) == 0 {
		return nil
	}

	sorted := make([]span[T], len(in))
	for i, s := range in {
		if s.start < 0 {
			s.start = 0
		}
		if s.end < s.start {
			s.end = s.start
		}
		sorted[i] = s
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	out := []span[T]{sorted[0]}
	for _, s := range sorted[1:] {
		cur := &out[len(out)-1]
		if s.start <= cur.end {
			cur.end = max(cur.end, s.end)
			continue
		}
		out = append(out, s)
	}
	return out
}

// invertSpans returns the complement of merged within [0, total), dropping
// zero-length ranges.
func invertSpans[T bound](merged []span[T], total T) []span[T] {
	var keep []span[T]
	var cursor T
	for _, s := range merged {
		if s.start > cursor {
			if end := min(s.start, total); end > cursor {
				keep = append(keep, span[T]{cursor, end})
			}
		}
		cursor = max(cursor, min(s.end, total))
	}
	if cursor < total {
		keep = append(keep, span[T]{cursor, total})
	}
	return keep
}

// Merge returns a sorted, disjoint list covering the same time as the input.
func Merge(intervals []Interval) []Interval {
	spans := make([]span[float64], len(intervals))
	for i, iv := range intervals {
		spans[i] = span[float64]{iv.Start, iv.End}
	}
	return toIntervals(mergeSpans(spans))
}

// Invert returns the ranges of [0, duration) not covered by merged.
// merged must be the output of Merge.
func Invert(merged []Interval, duration float64) []Interval {
	spans := make([]span[float64], len(merged))
	for i, iv := range merged {
		spans[i] = span[float64]{iv.Start, iv.End}
	}
	return toIntervals(invertSpans(spans, duration))
}

// MergeFrames is Merge in the frame domain.
func MergeFrames(ranges []FrameRange) []FrameRange {
	spans := make([]span[int64], len(ranges))
	for i, r := range ranges {
		spans[i] = span[int64]{r.Start, r.End}
	}
	return toFrameRanges(mergeSpans(spans))
}

// InvertFrames is Invert in the frame domain.
func InvertFrames(merged []FrameRange, total int64) []FrameRange {
	spans := make([]span[int64], len(merged))
	for i, r := range merged {
		spans[i] = span[int64]{r.Start, r.End}
	}
	return toFrameRanges(invertSpans(spans, total))
}

// ToFrames converts seconds to frames at rate, flooring both ends.
func ToFrames(iv Interval, rate int) FrameRange {
	return FrameRange{
		Start: SecondsToFrames(iv.Start, rate),
		End:   SecondsToFrames(iv.End, rate),
	}
}

// SecondsToFrames floors sec*rate.
func SecondsToFrames(sec float64, rate int) int64 {
	return int64(math.Floor(sec * float64(rate)))
}

// ToSeconds converts a frame range back to seconds at rate.
func ToSeconds(r FrameRange, rate int) Interval {
	return Interval{
		Start: float64(r.Start) / float64(rate),
		End:   float64(r.End) / float64(rate),
	}
}

// TotalLen sums interval lengths.
func TotalLen(intervals []Interval) float64 {
	var total float64
	for _, iv := range intervals {
		total += iv.Len()
	}
	return total
}

// RemovedLen sums merged interval lengths clamped to [0, duration].
func RemovedLen(merged []Interval, duration float64) float64 {
	var total float64
	for _, iv := range merged {
		start := min(max(iv.Start, 0), duration)
		end := min(max(iv.End, 0), duration)
		total += max(0, end-start)
	}
	return total
}

func toIntervals(spans []span[float64]) []Interval {
	if len(spans) == 0 {
		return nil
	}
	out := make([]Interval, len(spans))
	for i, s := range spans {
		out[i] = Interval{Start: s.start, End: s.end}
	}
	return out
}

func toFrameRanges(spans []span[int64]) []FrameRange {
	if len(spans) == 0 {
		return nil
	}
	out := make([]FrameRange, len(spans))
	for i, s := range spans {
		out[i] = FrameRange{Start: s.start, End: s.end}
	}
	return out
}
