package transcript

// Overlap returns the length in seconds of the intersection of [aStart, aEnd)
// and [bStart, bEnd), or 0 when they do not intersect.
func Overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	v := min(aEnd, bEnd) - max(aStart, bStart)
	if v < 0 {
		return 0
	}
	return v
}

// AssignSpeakers sets each segment's Speaker to the turn with the greatest
// overlap. A turn only replaces the current best when its overlap is strictly
// larger, so ties go to the earliest turn and a zero overlap never assigns.
// The best turn is accepted when its overlap is at least minOverlap; the
// speaker is cleared otherwise. With no turns the segments are left as is.
func AssignSpeakers(segments []Segment, turns []SpeakerTurn, minOverlap float64) {
	if len(turns) == 0 {
		return
	}

	for i := range segments {
		seg := &segments[i]
		best := 0.0
		speaker := ""
		for _, turn := range turns {
			ov := Overlap(seg.Start, seg.End, turn.Start, turn.End)
			if ov > best {
				best = ov
				speaker = turn.Speaker
			}
		}

		if speaker != "" && best >= minOverlap {
			seg.Speaker = speaker
		} else {
			seg.Speaker = ""
		}
	}
}
