package model

import (
	"fmt"
	"time"
)

// DataSlice identifies the exact input range one module execution covers.
// The time range is half-open: [Start, End). An empty Key spans all keys.
type DataSlice struct {
	Key   string    `json:"key,omitempty" yaml:"key,omitempty"`
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Overlaps reports whether two slices share any input.
func (s DataSlice) Overlaps(o DataSlice) bool {
	if s.Key != "" && o.Key != "" && s.Key != o.Key {
		return false
	}
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Contains reports whether t falls inside the slice's time range.
func (s DataSlice) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Equal reports whether two slices have identical bounds and key.
func (s DataSlice) Equal(o DataSlice) bool {
	return s.Key == o.Key && s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

func (s DataSlice) String() string {
	key := s.Key
	if key == "" {
		key = "*"
	}
	return fmt.Sprintf("%s[%s,%s)", key, s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339))
}

// Granularity is the declared slice shape of a module's output.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
	// GranularityAll covers the whole timeline with a single fixed slice.
	GranularityAll Granularity = "all"
)

// Duration returns the width of one slice, or 0 for GranularityAll.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	case GranularityWeek:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityAll:
		return true
	}
	return false
}
