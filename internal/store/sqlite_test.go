package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/me/obscore/pkg/model"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleModule(id string, version int) *model.ModuleDescriptor {
	return &model.ModuleDescriptor{
		ID:          id,
		Version:     version,
		InputKinds:  []string{"traceroute"},
		OutputKinds: []string{"rtt"},
		Granularity: model.GranularityHour,
		Enabled:     true,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func hourSlice(h int) model.DataSlice {
	start := t0.Add(time.Duration(h) * time.Hour)
	return model.DataSlice{Start: start, End: start.Add(time.Hour)}
}

func sampleItem(moduleID string, version int, slice model.DataSlice, seq int64) *model.WorkItem {
	return &model.WorkItem{
		ID:            model.WorkItemID(moduleID, version, slice, seq),
		ModuleID:      moduleID,
		ModuleVersion: version,
		Slice:         slice,
		InputSeq:      seq,
		MaxAttempts:   3,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func mustRegister(t *testing.T, st *SQLiteStore, m *model.ModuleDescriptor) {
	t.Helper()
	if err := st.RegisterModule(context.Background(), m); err != nil {
		t.Fatalf("register %s: %v", m.ID, err)
	}
}

func mustCreate(t *testing.T, st *SQLiteStore, w *model.WorkItem) {
	t.Helper()
	ok, err := st.CreateWorkItemIfUncovered(context.Background(), w)
	if err != nil {
		t.Fatalf("create %s: %v", w.ID, err)
	}
	if !ok {
		t.Fatalf("create %s: not inserted", w.ID)
	}
}

func mustClaim(t *testing.T, st *SQLiteStore, w *model.WorkItem, worker string, now time.Time) {
	t.Helper()
	ok, err := st.ClaimWorkItem(context.Background(), w, worker, now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatalf("claim %s by %s failed", w.ID, worker)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestAppendInputAssignsSeq(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a := &model.InputRecord{ID: "in-a", Kind: "traceroute", Key: "probe-1", Start: t0, End: t0.Add(time.Minute)}
	b := &model.InputRecord{ID: "in-b", Kind: "traceroute", Start: t0, End: t0}

	if ok, err := st.AppendInput(ctx, a); err != nil || !ok {
		t.Fatalf("append a: ok=%v err=%v", ok, err)
	}
	if ok, err := st.AppendInput(ctx, b); err != nil || !ok {
		t.Fatalf("append b: ok=%v err=%v", ok, err)
	}
	if b.Seq <= a.Seq {
		t.Errorf("seq not increasing: a=%d b=%d", a.Seq, b.Seq)
	}

	dup := &model.InputRecord{ID: "in-a", Kind: "other", Start: t0.Add(time.Hour), End: t0.Add(time.Hour)}
	ok, err := st.AppendInput(ctx, dup)
	if err != nil {
		t.Fatalf("append dup: %v", err)
	}
	if ok {
		t.Error("duplicate append reported insert")
	}
	if dup.Kind != "traceroute" || dup.Seq != a.Seq {
		t.Errorf("duplicate append should return stored record, got kind=%s seq=%d", dup.Kind, dup.Seq)
	}

	var seen []string
	err = st.ScanInputs(ctx, []string{"traceroute"}, func(rec *model.InputRecord) error {
		seen = append(seen, rec.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seen) != 2 || seen[0] != "in-a" || seen[1] != "in-b" {
		t.Errorf("scan order = %v", seen)
	}
}

func TestRegisterModuleShapeChangeRejected(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))

	changed := sampleModule("rtt", 1)
	changed.Granularity = model.GranularityDay
	err := st.RegisterModule(ctx, changed)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	older := sampleModule("rtt", 0)
	if err := st.RegisterModule(ctx, older); err == nil {
		t.Error("older version should be rejected")
	}

	bumped := sampleModule("rtt", 2)
	bumped.Granularity = model.GranularityDay
	bumped.Checks = map[string]string{"rtt": "value >= 0"}
	mustRegister(t, st, bumped)

	got, err := st.GetModule(ctx, "rtt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || got.Granularity != model.GranularityDay {
		t.Errorf("got version=%d granularity=%s", got.Version, got.Granularity)
	}
	if got.Checks["rtt"] != "value >= 0" {
		t.Errorf("checks = %v", got.Checks)
	}

	missing, err := st.GetModule(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("missing module: got %v, %v", missing, err)
	}
}

func TestCreateWorkItemIfUncovered(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))

	first := sampleItem("rtt", 1, hourSlice(0), 1)
	mustCreate(t, st, first)

	// Same revision again.
	again := sampleItem("rtt", 1, hourSlice(0), 1)
	if ok, _ := st.CreateWorkItemIfUncovered(ctx, again); ok {
		t.Error("same ID inserted twice")
	}

	// Newer revision while the first is still active.
	newer := sampleItem("rtt", 1, hourSlice(0), 2)
	if ok, _ := st.CreateWorkItemIfUncovered(ctx, newer); ok {
		t.Error("overlapping active item inserted")
	}

	// Neighbouring slice is independent.
	mustCreate(t, st, sampleItem("rtt", 1, hourSlice(1), 1))

	// Another version of the module may cover the same slice.
	mustCreate(t, st, sampleItem("rtt", 2, hourSlice(0), 1))
}

func TestCreateWorkItemEmptyKeySpansAllKeys(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	m := sampleModule("rtt", 1)
	m.PartitionByKey = true
	mustRegister(t, st, m)

	keyed := hourSlice(0)
	keyed.Key = "probe-a"
	mustCreate(t, st, sampleItem("rtt", 1, keyed, 1))

	other := hourSlice(0)
	other.Key = "probe-b"
	mustCreate(t, st, sampleItem("rtt", 1, other, 2))

	// The keyless slice overlaps both keyed ones.
	ok, err := st.CreateWorkItemIfUncovered(ctx, sampleItem("rtt", 1, hourSlice(0), 3))
	if err != nil || ok {
		t.Fatalf("keyless slice over active keyed items: ok=%v err=%v", ok, err)
	}

	// And a keyless active item blocks keyed ones.
	mustCreate(t, st, sampleItem("rtt", 1, hourSlice(1), 4))
	late := hourSlice(1)
	late.Key = "probe-a"
	ok, err = st.CreateWorkItemIfUncovered(ctx, sampleItem("rtt", 1, late, 5))
	if err != nil || ok {
		t.Fatalf("keyed slice over active keyless item: ok=%v err=%v", ok, err)
	}
}

func TestClaimRenewComplete(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))
	w := sampleItem("rtt", 1, hourSlice(0), 1)
	mustCreate(t, st, w)

	candidates, err := st.ListLeaseCandidates(ctx, model.WorkFilter{}, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	stale := *candidates[0]
	mustClaim(t, st, candidates[0], "worker-a", t0)

	// A second claim with the stale observation must lose.
	if ok, _ := st.ClaimWorkItem(ctx, &stale, "worker-b", t0, t0.Add(time.Minute)); ok {
		t.Fatal("stale claim succeeded")
	}

	if ok, _ := st.RenewLease(ctx, w.ID, "worker-b", t0.Add(10*time.Second), t0.Add(2*time.Minute)); ok {
		t.Error("renew by non-holder succeeded")
	}
	if ok, _ := st.RenewLease(ctx, w.ID, "worker-a", t0.Add(10*time.Second), t0.Add(2*time.Minute)); !ok {
		t.Error("renew by holder failed")
	}
	if ok, _ := st.RenewLease(ctx, w.ID, "worker-a", t0.Add(3*time.Minute), t0.Add(4*time.Minute)); ok {
		t.Error("renew after expiry succeeded")
	}

	res := &model.Result{
		ID:         model.ResultID(w.ID, 0, "worker-a"),
		WorkItemID: w.ID,
		ProducedBy: "worker-a",
		ProducedAt: t0.Add(20 * time.Second),
		Payload:    json.RawMessage(`[]`),
	}
	if ok, err := st.InsertCandidateResult(ctx, res, t0.Add(20*time.Second)); err != nil || !ok {
		t.Fatalf("insert result: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.CompleteWorkItem(ctx, w.ID, "worker-a", res.ID, t0.Add(30*time.Second)); !ok {
		t.Fatal("complete failed")
	}

	got, _ := st.GetWorkItem(ctx, w.ID)
	if got.State != model.WorkItemCompleted || got.ResultID != res.ID || got.LeaseHolder != "" {
		t.Errorf("after complete: state=%s result=%s holder=%q", got.State, got.ResultID, got.LeaseHolder)
	}

	stored, _ := st.GetResult(ctx, res.ID)
	if stored == nil || stored.ModuleID != "rtt" || !stored.Slice.Equal(w.Slice) || stored.Status != model.ResultCandidate {
		t.Errorf("stored result = %+v", stored)
	}
}

func TestInsertCandidateRequiresLiveLease(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))
	w := sampleItem("rtt", 1, hourSlice(0), 1)
	mustCreate(t, st, w)
	mustClaim(t, st, w, "worker-a", t0)

	res := &model.Result{ID: "res-x", WorkItemID: w.ID, ProducedBy: "worker-b", ProducedAt: t0}
	if ok, _ := st.InsertCandidateResult(ctx, res, t0.Add(time.Second)); ok {
		t.Error("non-holder inserted a result")
	}
	res.ProducedBy = "worker-a"
	if ok, _ := st.InsertCandidateResult(ctx, res, t0.Add(2*time.Minute)); ok {
		t.Error("expired holder inserted a result")
	}
}

func TestFailAndReclaim(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))
	w := sampleItem("rtt", 1, hourSlice(0), 1)
	w.MaxAttempts = 1
	mustCreate(t, st, w)

	mustClaim(t, st, w, "worker-a", t0)
	state, ok, err := st.FailWorkItem(ctx, w.ID, "worker-a", "boom", true, t0.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("fail: ok=%v err=%v", ok, err)
	}
	if state != model.WorkItemPending {
		t.Fatalf("retryable failure: state=%s, want PENDING", state)
	}

	w, _ = st.GetWorkItem(ctx, w.ID)
	mustClaim(t, st, w, "worker-b", t0.Add(2*time.Second))

	expired, err := st.ListExpiredLeases(ctx, t0.Add(time.Hour))
	if err != nil || len(expired) != 1 {
		t.Fatalf("expired leases: %d, %v", len(expired), err)
	}
	state, ok, err = st.ReclaimWorkItem(ctx, expired[0], t0.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	if state != model.WorkItemFailed {
		t.Errorf("reclaim past max attempts: state=%s, want FAILED", state)
	}

	// Second reclaim of the same observation is a no-op.
	if _, ok, _ := st.ReclaimWorkItem(ctx, expired[0], t0.Add(time.Hour)); ok {
		t.Error("reclaim applied twice")
	}

	got, _ := st.GetWorkItem(ctx, w.ID)
	if got.AttemptCount != 2 || got.LastError != model.ErrMaxAttemptsExceeded.Error() {
		t.Errorf("attempts=%d last_error=%q", got.AttemptCount, got.LastError)
	}
}

func TestExpireRetiredAndReclaimable(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))
	w := sampleItem("rtt", 1, hourSlice(0), 1)
	mustCreate(t, st, w)

	if _, err := st.SetModuleEnabled(ctx, "rtt", false, t0); err != nil {
		t.Fatalf("disable: %v", err)
	}
	n, err := st.ExpireRetiredWorkItems(ctx, t0)
	if err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
	if c, _ := st.ListLeaseCandidates(ctx, model.WorkFilter{}, 10); len(c) != 0 {
		t.Errorf("disabled module still has candidates: %d", len(c))
	}

	if _, err := st.SetModuleEnabled(ctx, "rtt", true, t0); err != nil {
		t.Fatalf("enable: %v", err)
	}
	c, _ := st.ListLeaseCandidates(ctx, model.WorkFilter{}, 10)
	if len(c) != 1 || c[0].State != model.WorkItemExpired {
		t.Fatalf("expected the expired item to be reclaimable, got %d", len(c))
	}

	// A newer revision makes the expired one obsolete.
	mustCreate(t, st, sampleItem("rtt", 1, hourSlice(0), 2))
	c, _ = st.ListLeaseCandidates(ctx, model.WorkFilter{}, 10)
	if len(c) != 1 || c[0].InputSeq != 2 {
		t.Errorf("expected only the newer revision, got %+v", c)
	}
	w.State = model.WorkItemExpired
	if ok, _ := st.ClaimWorkItem(ctx, w, "worker-a", t0, t0.Add(time.Minute)); ok {
		t.Error("obsolete expired item claimed")
	}
}

func TestListArchivableObsoleteExpired(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))
	paused := sampleItem("rtt", 1, hourSlice(0), 1)
	mustCreate(t, st, paused)

	// Disabled at the same version: the item may be reclaimed later.
	if _, err := st.SetModuleEnabled(ctx, "rtt", false, t0); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if n, err := st.ExpireRetiredWorkItems(ctx, t0); err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
	if items, _ := st.ListArchivable(ctx, 10); len(items) != 0 {
		t.Fatalf("reclaimable expired item archivable: %d", len(items))
	}

	// A newer revision makes it obsolete.
	if _, err := st.SetModuleEnabled(ctx, "rtt", true, t0); err != nil {
		t.Fatalf("enable: %v", err)
	}
	mustCreate(t, st, sampleItem("rtt", 1, hourSlice(0), 2))
	items, err := st.ListArchivable(ctx, 10)
	if err != nil || len(items) != 1 || items[0].ID != paused.ID {
		t.Fatalf("archivable after new revision = %v, %v", items, err)
	}

	// A version bump retires everything of v1.
	retired := sampleItem("rtt", 1, hourSlice(1), 1)
	mustCreate(t, st, retired)
	mustRegister(t, st, sampleModule("rtt", 2))
	if _, err := st.ExpireRetiredWorkItems(ctx, t0); err != nil {
		t.Fatalf("expire after bump: %v", err)
	}
	items, _ = st.ListArchivable(ctx, 10)
	ids := map[string]bool{}
	for _, w := range items {
		ids[w.ID] = true
	}
	if !ids[paused.ID] || !ids[retired.ID] || len(ids) != 3 {
		t.Errorf("archivable after bump = %v", ids)
	}
}

func TestPromoteResultGuard(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))

	mk := func(seq int64, worker string) *model.Result {
		w := sampleItem("rtt", 1, hourSlice(0), seq)
		mustCreate(t, st, w)
		mustClaim(t, st, w, worker, t0)
		r := &model.Result{ID: model.ResultID(w.ID, 0, worker), WorkItemID: w.ID, ProducedBy: worker, ProducedAt: t0}
		if ok, err := st.InsertCandidateResult(ctx, r, t0); err != nil || !ok {
			t.Fatalf("insert: ok=%v err=%v", ok, err)
		}
		if ok, _ := st.CompleteWorkItem(ctx, w.ID, worker, r.ID, t0); !ok {
			t.Fatal("complete failed")
		}
		return r
	}
	a := mk(1, "worker-a")
	b := mk(2, "worker-b")

	snap, _ := st.MaxValidatedRev(ctx)
	if ok, err := st.PromoteResult(ctx, a.ID, snap, nil, t0); err != nil || !ok {
		t.Fatalf("promote a: ok=%v err=%v", ok, err)
	}

	// b evaluated against the old snapshot must not commit.
	if ok, _ := st.PromoteResult(ctx, b.ID, snap, nil, t0); ok {
		t.Fatal("promotion with stale snapshot succeeded")
	}

	snap, _ = st.MaxValidatedRev(ctx)
	if ok, err := st.PromoteResult(ctx, b.ID, snap, []string{a.ID}, t0); err != nil || !ok {
		t.Fatalf("promote b: ok=%v err=%v", ok, err)
	}

	gotA, _ := st.GetResult(ctx, a.ID)
	gotB, _ := st.GetResult(ctx, b.ID)
	if gotA.Status != model.ResultSuperseded || gotA.SupersededBy != b.ID {
		t.Errorf("a: status=%s superseded_by=%s", gotA.Status, gotA.SupersededBy)
	}
	if gotB.Status != model.ResultValidated || gotB.ValidatedRev <= gotA.ValidatedRev {
		t.Errorf("b: status=%s rev=%d (a rev=%d)", gotB.Status, gotB.ValidatedRev, gotA.ValidatedRev)
	}

	overlapping, _ := st.ListOverlappingValidated(ctx, hourSlice(0), "")
	if len(overlapping) != 1 || overlapping[0].ID != b.ID {
		t.Errorf("canonical set = %v", overlapping)
	}
}

func TestListCandidateResultsCursor(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mustRegister(t, st, sampleModule("rtt", 1))

	produced := []time.Time{t0, t0, t0.Add(time.Second)}
	var want []string
	for h, at := range produced {
		w := sampleItem("rtt", 1, hourSlice(h), 1)
		mustCreate(t, st, w)
		mustClaim(t, st, w, "worker-a", t0)
		r := &model.Result{ID: model.ResultID(w.ID, 0, "worker-a"), WorkItemID: w.ID, ProducedBy: "worker-a", ProducedAt: at}
		if ok, err := st.InsertCandidateResult(ctx, r, t0); err != nil || !ok {
			t.Fatalf("insert: ok=%v err=%v", ok, err)
		}
		want = append(want, r.ID)
	}
	// Ties on produced_at are broken by ID.
	if want[1] < want[0] {
		want[0], want[1] = want[1], want[0]
	}

	var got []string
	var cursor ResultCursor
	for {
		page, err := st.ListCandidateResults(ctx, cursor, 1)
		if err != nil {
			t.Fatalf("ListCandidateResults: %v", err)
		}
		if len(page) == 0 {
			break
		}
		got = append(got, page[0].ID)
		cursor = CursorAfter(page[0])
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("paged order = %v, want %v", got, want)
	}

	all, err := st.ListCandidateResults(ctx, ResultCursor{}, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("unpaged list: %d, %v", len(all), err)
	}
}

func TestConflictsAndStats(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	c := &model.Conflict{
		ID: model.ConflictID("res-a", "res-b"), KeptID: "res-a", RejectedID: "res-b",
		KeptModule: "m1", RejectedModule: "m2", Slice: hourSlice(0),
		Reason: "shared output kind rtt", DetectedAt: t0,
	}
	if ok, _ := st.RecordConflict(ctx, c); !ok {
		t.Fatal("record failed")
	}
	if ok, _ := st.RecordConflict(ctx, c); ok {
		t.Error("duplicate conflict recorded")
	}

	open, total, err := st.ListConflicts(ctx, model.ListOptions{State: "open"})
	if err != nil || total != 1 || len(open) != 1 {
		t.Fatalf("open conflicts: total=%d err=%v", total, err)
	}
	if !open[0].Slice.Equal(c.Slice) {
		t.Errorf("slice round trip: %s != %s", open[0].Slice, c.Slice)
	}
	if ok, _ := st.AckConflict(ctx, c.ID); !ok {
		t.Error("ack failed")
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.OpenConflicts != 0 {
		t.Errorf("open conflicts = %d", stats.OpenConflicts)
	}
	if _, ok := stats.WorkItems[model.WorkItemPending]; !ok {
		t.Error("stats should list every work item state")
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obscore.db")
	st, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	mustRegister(t, st, sampleModule("rtt", 1))
	for h := 0; h < 5; h++ {
		mustCreate(t, st, sampleItem("rtt", 1, hourSlice(h), 1))
	}

	var mu sync.Mutex
	claimed := make(map[string]string)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		worker := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var cands []*model.WorkItem
				err := WithRetry(ctx, DefaultRetryPolicy(), func() error {
					var err error
					cands, err = st.ListLeaseCandidates(ctx, model.WorkFilter{}, 16)
					return err
				})
				if err != nil || len(cands) == 0 {
					return
				}
				for _, c := range cands {
					var ok bool
					err := WithRetry(ctx, DefaultRetryPolicy(), func() error {
						var err error
						ok, err = st.ClaimWorkItem(ctx, c, worker, t0, t0.Add(time.Minute))
						return err
					})
					if err != nil {
						t.Errorf("claim: %v", err)
						return
					}
					if ok {
						mu.Lock()
						if prev, dup := claimed[c.ID]; dup {
							t.Errorf("%s claimed by %s and %s", c.ID, prev, worker)
						}
						claimed[c.ID] = worker
						mu.Unlock()
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 5 {
		t.Errorf("claimed %d items, want 5", len(claimed))
	}
}
