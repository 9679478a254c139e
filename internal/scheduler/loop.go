package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/store"
)

// Archiver exports terminal work items. Implemented by internal/archive.
type Archiver interface {
	ArchiveOnce(ctx context.Context) (int, error)
}

// Loop drives a Scheduler with a polling loop.
type Loop struct {
	sched    *Scheduler
	store    store.Store
	archiver Archiver
	metrics  *metrics.Collector
	logger   *slog.Logger

	lastArchive time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewLoop creates a new scheduler loop. archiver may be nil.
func NewLoop(s *Scheduler, archiver Archiver, logger *slog.Logger) *Loop {
	return &Loop{
		sched:    s,
		store:    s.store,
		archiver: archiver,
		metrics:  s.metrics,
		logger:   logger.With("component", "scheduler-loop"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	interval := l.sched.config.PollInterval
	l.logger.Info("scheduler started", "poll_interval", interval, "lease_duration", l.sched.config.LeaseDuration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs a single scheduling iteration.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { l.metrics.ObserveTick("scheduler", time.Since(start)) }()

	// Phase 1: Reclaim expired leases so their slices are covered again.
	if _, err := l.sched.ReclaimExpired(ctx); err != nil {
		return fmt.Errorf("phase 1 (reclaim): %w", err)
	}

	// Phase 2: Plan work for uncovered or stale slices.
	if _, err := l.sched.Reconcile(ctx); err != nil {
		return fmt.Errorf("phase 2 (reconcile): %w", err)
	}

	// Phase 3: Archive terminal work items.
	if l.archiver != nil && time.Since(l.lastArchive) >= l.sched.config.ArchiveInterval {
		n, err := l.archiver.ArchiveOnce(ctx)
		if err != nil {
			return fmt.Errorf("phase 3 (archive): %w", err)
		}
		l.lastArchive = time.Now()
		if n > 0 {
			l.logger.Info("work items archived", "count", n)
		}
	}

	// Phase 4: Refresh state gauges.
	if l.metrics != nil {
		stats, err := l.store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("phase 4 (stats): %w", err)
		}
		l.metrics.UpdateStats(stats)
	}

	return nil
}
