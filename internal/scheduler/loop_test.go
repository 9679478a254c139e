package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

type countingArchiver struct {
	calls atomic.Int32
}

func (a *countingArchiver) ArchiveOnce(ctx context.Context) (int, error) {
	a.calls.Add(1)
	return 0, nil
}

func TestTickPlansAndReclaims(t *testing.T) {
	s, st, clock := testSetup(t, testConfig())
	s.metrics = metrics.NewCollector(prometheus.NewRegistry())
	ctx := context.Background()
	registerModule(t, st, "rtt", 1)
	addInput(t, st, "in-1", "", t0)

	arch := &countingArchiver{}
	loop := NewLoop(s, arch, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(itemsByState(t, st, model.WorkItemPending)); n != 1 {
		t.Fatalf("pending after first tick = %d, want 1", n)
	}
	if arch.calls.Load() != 1 {
		t.Errorf("archiver calls = %d, want 1", arch.calls.Load())
	}

	acquire(t, s, "worker-a")
	clock.Advance(s.Config().LeaseDuration + time.Second)
	if err := loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	pending := itemsByState(t, st, model.WorkItemPending)
	if len(pending) != 1 || pending[0].AttemptCount != 1 {
		t.Errorf("expired lease not reclaimed by tick: %+v", pending)
	}
	// The archive interval has not elapsed yet.
	if arch.calls.Load() != 1 {
		t.Errorf("archiver calls = %d, want 1", arch.calls.Load())
	}
}

func TestLoopStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	s, _, _ := testSetup(t, cfg)
	loop := NewLoop(s, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	if err := loop.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	s, _, _ := testSetup(t, cfg)
	loop := NewLoop(s, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
