package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/pkg/model"
)

// leaseGone reports errors a worker sees after losing its lease.
func leaseGone(err error) bool {
	return errors.Is(err, model.ErrLeaseLost) || errors.Is(err, model.ErrStaleModuleVersion)
}

func allItems(t *testing.T, st store.Store) []*model.WorkItem {
	t.Helper()
	items, total, err := st.ListWorkItems(context.Background(), model.ListOptions{Limit: 500})
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if total > len(items) {
		t.Fatalf("%d work items, only %d listed", total, len(items))
	}
	return items
}

// checkActiveDisjoint fails when two PENDING or LEASED items of one module
// version overlap, or when a leased item has no live holder recorded.
func checkActiveDisjoint(t *testing.T, items []*model.WorkItem, step int, op string) {
	t.Helper()
	var active []*model.WorkItem
	for _, w := range items {
		if !w.State.IsActive() {
			continue
		}
		if w.State == model.WorkItemLeased && (w.LeaseHolder == "" || w.LeaseExpiry == nil) {
			t.Fatalf("step %d (%s): leased item %s without holder", step, op, w.ID)
		}
		active = append(active, w)
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.ModuleID != b.ModuleID || a.ModuleVersion != b.ModuleVersion {
				continue
			}
			if a.Slice.Overlaps(b.Slice) {
				t.Fatalf("step %d (%s): active items overlap: %s %s (%s) and %s %s (%s)",
					step, op, a.ID, a.Slice, a.State, b.ID, b.Slice, b.State)
			}
		}
	}
}

func TestRandomOperationsKeepActiveSlicesDisjoint(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			runRandomSchedule(t, seed, 70)
		})
	}
}

func runRandomSchedule(t *testing.T, seed int64, steps int) {
	rng := rand.New(rand.NewSource(seed))
	cfg := testConfig()
	cfg.MaxAttempts = 2
	s, st, clock := testSetup(t, cfg)
	ctx := context.Background()

	versions := map[string]int{"hourly": 1, "daily": 1, "keyed": 1}
	shapes := map[string]func(*model.ModuleDescriptor){
		"hourly": func(m *model.ModuleDescriptor) {},
		"daily":  func(m *model.ModuleDescriptor) { m.Granularity = model.GranularityDay },
		"keyed":  func(m *model.ModuleDescriptor) { m.PartitionByKey = true },
	}
	modules := []string{"daily", "hourly", "keyed"}
	for _, id := range modules {
		registerModule(t, st, id, 1, shapes[id])
	}

	keys := []string{"", "site-a", "site-b"}
	workers := []string{"worker-0", "worker-1", "worker-2"}
	held := map[string]string{} // work item -> worker
	heldIDs := func() []string {
		ids := make([]string, 0, len(held))
		for id := range held {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}

	seen := map[string]model.WorkItemState{}
	inputs := 0
	for step := 0; step < steps; step++ {
		var op string
		switch rng.Intn(8) {
		case 0:
			op = "input"
			inputs++
			at := t0.Add(time.Duration(rng.Intn(36*60)) * time.Minute)
			addInput(t, st, fmt.Sprintf("in-%d", inputs), keys[rng.Intn(len(keys))], at)
		case 1:
			op = "reconcile"
			reconcile(t, s)
		case 2:
			op = "acquire"
			worker := workers[rng.Intn(len(workers))]
			w, err := s.AcquireLease(ctx, worker, model.WorkFilter{})
			switch {
			case errors.Is(err, model.ErrNoWorkAvailable):
			case err != nil:
				t.Fatalf("step %d: AcquireLease: %v", step, err)
			default:
				held[w.ID] = worker
			}
		case 3:
			op = "complete"
			ids := heldIDs()
			if len(ids) == 0 {
				continue
			}
			id := ids[rng.Intn(len(ids))]
			worker := held[id]
			delete(held, id)
			r, err := s.SubmitResult(ctx, id, worker, json.RawMessage("[]"))
			if err != nil {
				if !leaseGone(err) {
					t.Fatalf("step %d: SubmitResult: %v", step, err)
				}
				break
			}
			if err := s.CompleteLease(ctx, id, worker, r.ID); err != nil && !leaseGone(err) {
				t.Fatalf("step %d: CompleteLease: %v", step, err)
			}
		case 4:
			op = "fail"
			ids := heldIDs()
			if len(ids) == 0 {
				continue
			}
			id := ids[rng.Intn(len(ids))]
			worker := held[id]
			delete(held, id)
			if _, err := s.ReportFailure(ctx, id, worker, "exit code 1", rng.Intn(2) == 0); err != nil && !leaseGone(err) {
				t.Fatalf("step %d: ReportFailure: %v", step, err)
			}
		case 5:
			op = "reclaim"
			clock.Advance(time.Duration(rng.Int63n(int64(2 * cfg.LeaseDuration))))
			if _, err := s.ReclaimExpired(ctx); err != nil {
				t.Fatalf("step %d: ReclaimExpired: %v", step, err)
			}
		case 6:
			op = "toggle"
			id := modules[rng.Intn(len(modules))]
			if _, err := st.SetModuleEnabled(ctx, id, rng.Intn(3) > 0, clock.Now()); err != nil {
				t.Fatalf("step %d: SetModuleEnabled: %v", step, err)
			}
		case 7:
			op = "bump"
			id := modules[rng.Intn(len(modules))]
			versions[id]++
			registerModule(t, st, id, versions[id], shapes[id])
		}

		items := allItems(t, st)
		for _, w := range items {
			if prev, ok := seen[w.ID]; ok && prev != w.State && !prev.CanTransitionTo(w.State) {
				t.Fatalf("step %d (%s): %s moved %s -> %s", step, op, w.ID, prev, w.State)
			}
			seen[w.ID] = w.State
		}
		checkActiveDisjoint(t, items, step, op)
	}
}
