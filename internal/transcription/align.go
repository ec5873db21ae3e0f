// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package transcription

import (
	"math"
	"sort"

	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

// AlignedSegment is a transcript segment with the frames shown during it.
type AlignedSegment struct {
	Index int `json:"index"`
	Segment
	Frames []videoprocessing.Frame `json:"frames"`
}

// Align assigns every frame to exactly one segment: the segment whose
// [start, end) span contains the frame's timestamp, otherwise the nearest
// one. Ties go to the earlier segment. A transcript with no segments gets
// a single silent segment covering all frames.
func Align(segments []Segment, frames []videoprocessing.Frame) []AlignedSegment {
	segs := append([]Segment(nil), segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	if len(segs) == 0 {
		silent := Segment{}
		for _, f := range frames {
			silent.End = math.Max(silent.End, f.Timestamp)
		}
		segs = []Segment{silent}
	}

	out := make([]AlignedSegment, len(segs))
	for i, s := range segs {
		out[i] = AlignedSegment{Index: i, Segment: s, Frames: []videoprocessing.Frame{}}
	}
	for _, f := range frames {
		i := nearestSegment(segs, f.Timestamp)
		out[i].Frames = append(out[i].Frames, f)
	}
	return out
}

func nearestSegment(segs []Segment, ts float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, s := range segs {
		last := i == len(segs)-1
		if ts >= s.Start && (ts < s.End || (last && ts <= s.End)) {
			return i
		}
		if d := distance(s, ts); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distance(s Segment, ts float64) float64 {
	if ts < s.Start {
		return s.Start - ts
	}
	return ts - s.End
}
