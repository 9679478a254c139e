// Package scheduler plans work items from input records and arbitrates
// leases between execution workers. Every decision is a conditional write
// against the shared store, so any number of scheduler processes may run.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/store"
)

// Runner is a periodic background loop.
type Runner interface {
	// Start begins the loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the loop.
	Stop() error

	// Tick runs a single iteration. Used for testing.
	Tick(ctx context.Context) error
}

// Config holds scheduler configuration.
type Config struct {
	PollInterval    time.Duration
	LeaseDuration   time.Duration
	MaxAttempts     int
	CandidateBatch  int
	ArchiveInterval time.Duration
	Retry           store.RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    2 * time.Second,
		LeaseDuration:   5 * time.Minute,
		MaxAttempts:     3,
		CandidateBatch:  16,
		ArchiveInterval: time.Hour,
		Retry:           store.DefaultRetryPolicy(),
	}
}

// Scheduler owns the WorkItem lifecycle.
type Scheduler struct {
	store   store.Store
	config  Config
	metrics *metrics.Collector
	logger  *slog.Logger

	// Now returns the current time. Tests replace it to control lease expiry.
	Now func() time.Time
}

// New creates a Scheduler. m may be nil.
func New(st store.Store, cfg Config, m *metrics.Collector, logger *slog.Logger) *Scheduler {
	if cfg.CandidateBatch <= 0 {
		cfg.CandidateBatch = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	return &Scheduler{
		store:   st,
		config:  cfg,
		metrics: m,
		logger:  logger.With("component", "scheduler"),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

func (s *Scheduler) now() time.Time {
	return s.Now().UTC()
}

func (s *Scheduler) retry(ctx context.Context, fn func() error) error {
	return store.WithRetry(ctx, s.config.Retry, fn)
}
