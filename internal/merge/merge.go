// Package merge implements the segment merger (C4): a pure function that
// assigns a speaker label to each transcription segment by maximum
// temporal overlap with diarization turns (spec §4.4). It has no
// dependency on the store, broker, or engine adapter — the same inputs
// always produce the same outputs.
package merge

import "transcriflow/internal/models"

// Segments attaches a speaker_label to each segment in segs by picking the
// turn in turns with the greatest temporal overlap; ties are broken by the
// earlier turn start. A segment with zero overlap against every turn is
// left unlabeled. Returns the labeled segments (a new slice; the input is
// not mutated) and the distinct set of speaker labels that appear.
//
// Complexity is O(N*M) (N segments, M turns), which is adequate for the
// segment/turn counts a single audio file produces; spec §4.4 allows a
// sweep-line O((N+M) log(N+M)) implementation as an equivalent but does
// not require it.
func Segments(segs []models.Segment, turns []models.DiarizationTurn) ([]models.Segment, []string) {
	out := make([]models.Segment, len(segs))
	copy(out, segs)

	if len(turns) == 0 || len(out) == 0 {
		return out, nil
	}

	seen := make(map[string]bool)
	var speakers []string

	for i := range out {
		label, ok := bestMatch(out[i], turns)
		if !ok {
			continue
		}
		out[i].Speaker = label
		if label != "" && !seen[label] {
			seen[label] = true
			speakers = append(speakers, label)
		}
	}
	return out, speakers
}

// bestMatch finds the turn with maximum overlap against s. Returns
// (label, false) if every turn has zero overlap.
func bestMatch(s models.Segment, turns []models.DiarizationTurn) (string, bool) {
	var bestIdx = -1
	var bestOverlap float64

	for i, t := range turns {
		ov := overlap(s, t)
		if ov <= 0 {
			continue
		}
		if bestIdx == -1 || ov > bestOverlap ||
			(ov == bestOverlap && t.StartSec < turns[bestIdx].StartSec) {
			bestIdx = i
			bestOverlap = ov
		}
	}
	if bestIdx == -1 {
		return "", false
	}
	return turns[bestIdx].Speaker, true
}

// overlap computes the length of the intersection of s and t's intervals,
// or 0 if they do not intersect. Uses float64 seconds, which carries
// sub-millisecond precision for any realistic audio duration.
func overlap(s models.Segment, t models.DiarizationTurn) float64 {
	start := max(s.StartSec, t.StartSec)
	end := min(s.EndSec, t.EndSec)
	if end <= start {
		return 0
	}
	return end - start
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
