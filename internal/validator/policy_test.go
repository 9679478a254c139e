package validator

import (
	"testing"
	"time"

	"github.com/me/obscore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hour(h int) model.DataSlice {
	start := t0.Add(time.Duration(h) * time.Hour)
	return model.DataSlice{Start: start, End: start.Add(time.Hour)}
}

func res(id, module string, version int, seq int64) *model.Result {
	return &model.Result{ID: id, ModuleID: module, ModuleVersion: version, InputSeq: seq, Slice: hour(0)}
}

func descriptors(mods ...*model.ModuleDescriptor) map[string]*model.ModuleDescriptor {
	out := make(map[string]*model.ModuleDescriptor, len(mods))
	for _, m := range mods {
		out[m.ID] = m
	}
	return out
}

func TestResolveEmptyCanonicalPromotes(t *testing.T) {
	d := Resolve(res("c", "rtt", 1, 1), nil, nil)
	assert.True(t, d.Promote)
	assert.Empty(t, d.Supersede)
}

func TestResolveSameModule(t *testing.T) {
	tests := []struct {
		name      string
		candidate *model.Result
		existing  *model.Result
		promote   bool
		reason    string
	}{
		{"newer version supersedes", res("c", "rtt", 2, 1), res("e", "rtt", 1, 5), true, ""},
		{"older version rejected", res("c", "rtt", 1, 9), res("e", "rtt", 2, 1), false, "stale module version"},
		{"newer revision supersedes", res("c", "rtt", 1, 6), res("e", "rtt", 1, 5), true, ""},
		{"older revision rejected", res("c", "rtt", 1, 4), res("e", "rtt", 1, 5), false, "stale input revision"},
		{"equal revision rejected", res("c", "rtt", 1, 5), res("e", "rtt", 1, 5), false, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Resolve(tt.candidate, []*model.Result{tt.existing}, nil)
			assert.Equal(t, tt.promote, d.Promote)
			if tt.promote {
				require.Len(t, d.Supersede, 1)
				assert.Equal(t, "e", d.Supersede[0].ID)
				return
			}
			assert.Contains(t, d.Reason, tt.reason)
			assert.Empty(t, d.Conflicts)
		})
	}
}

func TestResolveCrossModule(t *testing.T) {
	a := &model.ModuleDescriptor{ID: "a", OutputKinds: []string{"tcp-rtt"}}
	b := &model.ModuleDescriptor{ID: "b", OutputKinds: []string{"udp-rtt"}}
	c := &model.ModuleDescriptor{ID: "c", OutputKinds: []string{"udp-rtt", "tcp-rtt"}}

	t.Run("disjoint outputs are independent", func(t *testing.T) {
		d := Resolve(res("x", "a", 1, 1), []*model.Result{res("y", "b", 1, 1)}, descriptors(a, b))
		assert.True(t, d.Promote)
		assert.Empty(t, d.Supersede)
	})

	t.Run("shared outputs conflict", func(t *testing.T) {
		d := Resolve(res("x", "a", 1, 1), []*model.Result{res("y", "c", 1, 1)}, descriptors(a, c))
		assert.False(t, d.Promote)
		require.Len(t, d.Conflicts, 1)
		assert.Equal(t, "y", d.Conflicts[0].ID)
		assert.Contains(t, d.Reason, model.ErrConflictUnresolved.Error())
	})

	t.Run("unknown module is treated as shared", func(t *testing.T) {
		d := Resolve(res("x", "a", 1, 1), []*model.Result{res("y", "gone", 1, 1)}, descriptors(a))
		assert.False(t, d.Promote)
		assert.Len(t, d.Conflicts, 1)
	})

	t.Run("conflict blocks own supersession", func(t *testing.T) {
		canonical := []*model.Result{res("old", "a", 1, 1), res("y", "c", 1, 1)}
		d := Resolve(res("x", "a", 1, 2), canonical, descriptors(a, c))
		assert.False(t, d.Promote)
		assert.Empty(t, d.Supersede)
	})
}

func TestResolveSupersedesEveryFinerSlice(t *testing.T) {
	var canonical []*model.Result
	for h := 0; h < 24; h++ {
		r := res("v1-"+string(rune('a'+h)), "rtt", 1, int64(h))
		r.Slice = hour(h)
		canonical = append(canonical, r)
	}
	candidate := res("v2", "rtt", 2, 1)
	candidate.Slice = model.DataSlice{Start: t0, End: t0.Add(24 * time.Hour)}

	d := Resolve(candidate, canonical, nil)
	assert.True(t, d.Promote)
	assert.Len(t, d.Supersede, 24)
}
