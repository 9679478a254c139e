package validator

import (
	"context"
	"log/slog"
	"time"
)

// Loop drives a Validator with a polling loop.
type Loop struct {
	validator *Validator
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop creates a new validator loop.
func NewLoop(v *Validator, logger *slog.Logger) *Loop {
	return &Loop{
		validator: v,
		logger:    logger.With("component", "validator-loop"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the validation loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	interval := l.validator.config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	l.logger.Info("validator started", "poll_interval", interval, "batch_size", l.validator.config.BatchSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("validator stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("validator stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the loop and waits for the current sweep to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs a single sweep.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { l.validator.metrics.ObserveTick("validator", time.Since(start)) }()

	sum, err := l.validator.Sweep(ctx)
	if sum.Validated+sum.Rejected > 0 {
		l.logger.Info("sweep", "validated", sum.Validated, "superseded", sum.Superseded,
			"rejected", sum.Rejected, "deferred", sum.Deferred)
	}
	return err
}
