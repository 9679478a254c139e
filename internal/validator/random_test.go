package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/me/obscore/pkg/model"
)

func TestRandomHistoryKeepsCanonicalSetConsistent(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			runRandomHistory(t, seed, 70)
		})
	}
}

func runRandomHistory(t *testing.T, seed int64, steps int) {
	rng := rand.New(rand.NewSource(seed))
	h := newHarness(t, ":memory:")
	ctx := context.Background()

	// alpha, beta and daily share tcp-rtt; udp is independent of all three.
	shapes := map[string]func(*model.ModuleDescriptor){
		"alpha": func(m *model.ModuleDescriptor) {},
		"beta":  func(m *model.ModuleDescriptor) {},
		"daily": func(m *model.ModuleDescriptor) { m.Granularity = model.GranularityDay },
		"udp":   func(m *model.ModuleDescriptor) { m.OutputKinds = []string{"udp-rtt"} },
	}
	modules := []string{"alpha", "beta", "daily", "udp"}
	versions := map[string]int{}
	kinds := map[string]string{}
	for _, id := range modules {
		m := h.register(id, 1, shapes[id])
		versions[id] = 1
		kinds[id] = m.OutputKinds[0]
	}

	type lease struct{ worker, module string }
	held := map[string]lease{}
	heldIDs := func() []string {
		ids := make([]string, 0, len(held))
		for id := range held {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}

	seen := map[string]model.ResultStatus{}
	inputs := 0
	for step := 0; step < steps; step++ {
		var op string
		switch rng.Intn(6) {
		case 0:
			op = "input"
			inputs++
			h.input(fmt.Sprintf("in-%d", inputs), t0.Add(time.Duration(rng.Intn(20*60))*time.Minute))
		case 1:
			op = "lease"
			module := modules[rng.Intn(len(modules))]
			worker := fmt.Sprintf("worker-%d", rng.Intn(3))
			w, err := h.sched.AcquireLease(ctx, worker, model.WorkFilter{ModuleIDs: []string{module}})
			if errors.Is(err, model.ErrNoWorkAvailable) {
				continue
			}
			if err != nil {
				t.Fatalf("step %d: AcquireLease: %v", step, err)
			}
			payload := fmt.Sprintf(`[{"kind":%q,"time":%q,"value":%d}]`,
				kinds[module], w.Slice.Start.Add(time.Minute).Format(time.RFC3339), 1+rng.Intn(50))
			if _, err := h.sched.SubmitResult(ctx, w.ID, worker, json.RawMessage(payload)); err != nil {
				t.Fatalf("step %d: SubmitResult: %v", step, err)
			}
			held[w.ID] = lease{worker: worker, module: module}
		case 2:
			op = "complete"
			ids := heldIDs()
			if len(ids) == 0 {
				continue
			}
			id := ids[rng.Intn(len(ids))]
			l := held[id]
			delete(held, id)
			results, err := h.st.ListResultsByWorkItem(ctx, id)
			if err != nil {
				t.Fatalf("step %d: ListResultsByWorkItem: %v", step, err)
			}
			var mine string
			for _, r := range results {
				if r.ProducedBy == l.worker {
					mine = r.ID
				}
			}
			err = h.sched.CompleteLease(ctx, id, l.worker, mine)
			if err != nil && !errors.Is(err, model.ErrLeaseLost) && !errors.Is(err, model.ErrStaleModuleVersion) {
				t.Fatalf("step %d: CompleteLease: %v", step, err)
			}
		case 3:
			op = "bump"
			id := modules[rng.Intn(len(modules))]
			versions[id]++
			h.register(id, versions[id], shapes[id])
		case 4:
			op = "validate"
			candidates, _, err := h.st.ListResults(ctx, model.ListOptions{Limit: 500, State: string(model.ResultCandidate)})
			if err != nil {
				t.Fatalf("step %d: ListResults: %v", step, err)
			}
			if len(candidates) == 0 {
				continue
			}
			r := candidates[rng.Intn(len(candidates))]
			if _, err := h.val.ValidateOne(ctx, r.ID); err != nil {
				t.Fatalf("step %d: ValidateOne(%s): %v", step, r.ID, err)
			}
		case 5:
			op = "sweep"
			if _, err := h.val.Sweep(ctx); err != nil {
				t.Fatalf("step %d: Sweep: %v", step, err)
			}
		}

		results, total, err := h.st.ListResults(ctx, model.ListOptions{Limit: 500})
		if err != nil {
			t.Fatalf("step %d: ListResults: %v", step, err)
		}
		if total > len(results) {
			t.Fatalf("%d results, only %d listed", total, len(results))
		}
		for _, r := range results {
			if prev, ok := seen[r.ID]; ok && prev != r.Status && !prev.CanTransitionTo(r.Status) {
				t.Fatalf("step %d (%s): %s moved %s -> %s", step, op, r.ID, prev, r.Status)
			}
			seen[r.ID] = r.Status
		}
		checkCanonicalSet(t, results, kinds, step, op)
	}
}

// checkCanonicalSet fails when two overlapping VALIDATED results come from the
// same module or from modules sharing an output kind.
func checkCanonicalSet(t *testing.T, results []*model.Result, kinds map[string]string, step int, op string) {
	t.Helper()
	var validated []*model.Result
	for _, r := range results {
		if r.Status == model.ResultValidated {
			validated = append(validated, r)
		}
	}
	for i := range validated {
		for j := i + 1; j < len(validated); j++ {
			a, b := validated[i], validated[j]
			if !a.Slice.Overlaps(b.Slice) || kinds[a.ModuleID] != kinds[b.ModuleID] {
				continue
			}
			t.Fatalf("step %d (%s): overlapping canonical results %s (%s v%d %s) and %s (%s v%d %s)",
				step, op, a.ID, a.ModuleID, a.ModuleVersion, a.Slice, b.ID, b.ModuleID, b.ModuleVersion, b.Slice)
		}
	}
}
