// Package slicing maps input records onto a module's slice grid and merges
// time intervals into coverage timelines.
package slicing

import (
	"fmt"
	"sort"
	"time"

	"github.com/me/obscore/pkg/model"
)

// Bounds of the single slice used by GranularityAll. The end stays inside
// the range of int64 nanoseconds so slice bounds survive a store round trip.
var (
	AllStart = time.Unix(0, 0).UTC()
	AllEnd   = time.Date(2262, 1, 1, 0, 0, 0, 0, time.UTC)
)

// MaxCellsPerRecord bounds how many grid cells one input record may touch.
const MaxCellsPerRecord = 100_000

// Cells returns the grid slices of granularity g that the range
// [start, end] touches. An instantaneous record touches exactly one cell.
func Cells(g model.Granularity, key string, start, end time.Time) ([]model.DataSlice, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("record ends before it starts (%s < %s)", end, start)
	}
	if g == model.GranularityAll {
		return []model.DataSlice{{Key: key, Start: AllStart, End: AllEnd}}, nil
	}
	d := g.Duration()
	if d <= 0 {
		return nil, fmt.Errorf("unknown granularity %q", g)
	}

	first := start.UTC().Truncate(d)
	var cells []model.DataSlice
	for c := first; ; c = c.Add(d) {
		cells = append(cells, model.DataSlice{Key: key, Start: c, End: c.Add(d)})
		if len(cells) > MaxCellsPerRecord {
			return nil, fmt.Errorf("record spans more than %d %s slices", MaxCellsPerRecord, g)
		}
		if !c.Add(d).Before(end) {
			break
		}
	}
	return cells, nil
}

// Planned is one slice a module should cover together with the newest input
// revision inside it.
type Planned struct {
	Slice    model.DataSlice
	InputSeq int64
}

type cellKey struct {
	key        string
	start, end int64
}

// Planner accumulates input records for one module and yields the slices
// the module must cover.
type Planner struct {
	module *model.ModuleDescriptor
	cells  map[cellKey]int64
}

// NewPlanner creates a planner for module m.
func NewPlanner(m *model.ModuleDescriptor) *Planner {
	return &Planner{module: m, cells: make(map[cellKey]int64)}
}

// Add folds one input record into the plan.
func (p *Planner) Add(rec *model.InputRecord) error {
	key := ""
	if p.module.PartitionByKey {
		key = rec.Key
	}
	cells, err := Cells(p.module.Granularity, key, rec.Start, rec.End)
	if err != nil {
		return fmt.Errorf("input %s: %w", rec.ID, err)
	}
	for _, c := range cells {
		k := cellKey{key: c.Key, start: c.Start.UnixNano(), end: c.End.UnixNano()}
		if rec.Seq > p.cells[k] {
			p.cells[k] = rec.Seq
		}
	}
	return nil
}

// Slices returns the planned slices ordered by start, then key.
func (p *Planner) Slices() []Planned {
	out := make([]Planned, 0, len(p.cells))
	for k, seq := range p.cells {
		out = append(out, Planned{
			Slice: model.DataSlice{
				Key:   k.key,
				Start: time.Unix(0, k.start).UTC(),
				End:   time.Unix(0, k.end).UTC(),
			},
			InputSeq: seq,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Slice.Start.Equal(out[j].Slice.Start) {
			return out[i].Slice.Start.Before(out[j].Slice.Start)
		}
		return out[i].Slice.Key < out[j].Slice.Key
	})
	return out
}
