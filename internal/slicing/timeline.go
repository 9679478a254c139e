package slicing

import (
	"sort"
	"time"
)

// Interval is a closed-open time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Timeline is a set of disjoint intervals. Adding an interval merges it with
// every interval it overlaps or touches.
type Timeline struct {
	intervals []Interval
}

// Add inserts [start, end) into the timeline.
func (t *Timeline) Add(start, end time.Time) {
	if end.Before(start) {
		start, end = end, start
	}
	merged := Interval{Start: start, End: end}
	kept := t.intervals[:0]
	for _, iv := range t.intervals {
		if iv.End.Before(merged.Start) || merged.End.Before(iv.Start) {
			kept = append(kept, iv)
			continue
		}
		if iv.Start.Before(merged.Start) {
			merged.Start = iv.Start
		}
		if iv.End.After(merged.End) {
			merged.End = iv.End
		}
	}
	t.intervals = append(kept, merged)
}

// Intervals returns the merged intervals sorted by start.
func (t *Timeline) Intervals() []Interval {
	out := make([]Interval, len(t.intervals))
	copy(out, t.intervals)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Total returns the summed length of all intervals.
func (t *Timeline) Total() time.Duration {
	var d time.Duration
	for _, iv := range t.intervals {
		d += iv.End.Sub(iv.Start)
	}
	return d
}
