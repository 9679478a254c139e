// Package validator decides which candidate results become canonical. Each
// decision is a conditional write guarded by the promotion counter, so
// concurrent validators never promote two overlapping results off the same
// snapshot.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/pkg/model"
)

// Config holds validator configuration.
type Config struct {
	PollInterval       time.Duration
	BatchSize          int
	MaxPayloadErrors   int
	MaxPromoteAttempts int
	Retry              store.RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       2 * time.Second,
		BatchSize:          64,
		MaxPayloadErrors:   100,
		MaxPromoteAttempts: 3,
		Retry:              store.DefaultRetryPolicy(),
	}
}

// Outcome reports what ValidateOne did with a result.
type Outcome struct {
	ResultID   string             `json:"result_id"`
	Status     model.ResultStatus `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Superseded []string           `json:"superseded,omitempty"`
	Conflicts  []string           `json:"conflicts,omitempty"`

	// Deferred is set when the result's work item is still leased by its
	// producer; the result stays CANDIDATE until the lease completes.
	Deferred bool `json:"deferred,omitempty"`
}

// SweepSummary counts the decisions made by one Sweep.
type SweepSummary struct {
	Examined   int `json:"examined"`
	Validated  int `json:"validated"`
	Rejected   int `json:"rejected"`
	Superseded int `json:"superseded"`
	Deferred   int `json:"deferred"`
	Errors     int `json:"errors"`
}

// Validator owns Result status transitions.
type Validator struct {
	store   store.Store
	config  Config
	metrics *metrics.Collector
	logger  *slog.Logger

	// Now returns the current time.
	Now func() time.Time
}

// New creates a Validator. m may be nil.
func New(st store.Store, cfg Config, m *metrics.Collector, logger *slog.Logger) *Validator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.MaxPayloadErrors <= 0 {
		cfg.MaxPayloadErrors = 100
	}
	if cfg.MaxPromoteAttempts <= 0 {
		cfg.MaxPromoteAttempts = 3
	}
	return &Validator{
		store:   st,
		config:  cfg,
		metrics: m,
		logger:  logger.With("component", "validator"),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration.
func (v *Validator) Config() Config {
	return v.config
}

func (v *Validator) retry(ctx context.Context, fn func() error) error {
	return store.WithRetry(ctx, v.config.Retry, fn)
}

// ValidateOne checks a single candidate result and promotes, supersedes or
// rejects it. Results that are already decided are reported unchanged.
func (v *Validator) ValidateOne(ctx context.Context, resultID string) (*Outcome, error) {
	r, err := v.getResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("result %s: %w", resultID, model.ErrNotFound)
	}
	if r.Status != model.ResultCandidate {
		return &Outcome{ResultID: r.ID, Status: r.Status, Reason: r.Reason}, nil
	}

	// Only the result the lease holder completed with may become canonical.
	var w *model.WorkItem
	err = v.retry(ctx, func() error {
		var err error
		w, err = v.store.GetWorkItem(ctx, r.WorkItemID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get work item %s: %w", r.WorkItemID, err)
	}
	switch {
	case w == nil:
		return v.reject(ctx, r, "orphaned: work item missing", nil)
	case w.State == model.WorkItemLeased && w.LeaseHolder == r.ProducedBy && w.ResultID == "":
		return &Outcome{ResultID: r.ID, Status: model.ResultCandidate, Deferred: true}, nil
	case w.State != model.WorkItemCompleted || w.ResultID != r.ID:
		return v.reject(ctx, r, fmt.Sprintf("orphaned: %v (work item %s)", model.ErrLeaseLost, w.State), nil)
	}

	var modules []*model.ModuleDescriptor
	err = v.retry(ctx, func() error {
		var err error
		modules, err = v.store.ListModules(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	byID := make(map[string]*model.ModuleDescriptor, len(modules))
	for _, m := range modules {
		byID[m.ID] = m
	}

	m := byID[r.ModuleID]
	if m == nil || m.Version != r.ModuleVersion {
		return v.reject(ctx, r, fmt.Sprintf("%v: produced by version %d", model.ErrStaleModuleVersion, r.ModuleVersion), nil)
	}

	checker, err := NewChecker(m)
	if err != nil {
		return v.reject(ctx, r, "module checks: "+err.Error(), nil)
	}
	if _, perrs := CheckPayload(r, m, checker, v.config.MaxPayloadErrors); len(perrs) > 0 {
		return v.reject(ctx, r, "payload: "+summarize(perrs), nil)
	}

	for attempt := 1; attempt <= v.config.MaxPromoteAttempts; attempt++ {
		var snapshot int64
		var canonical []*model.Result
		err := v.retry(ctx, func() error {
			var err error
			if snapshot, err = v.store.MaxValidatedRev(ctx); err != nil {
				return err
			}
			canonical, err = v.store.ListOverlappingValidated(ctx, r.Slice, r.ID)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("load canonical set: %w", err)
		}

		d := Resolve(r, canonical, byID)
		if !d.Promote {
			return v.reject(ctx, r, d.Reason, d.Conflicts)
		}

		supersede := make([]string, len(d.Supersede))
		for i, old := range d.Supersede {
			supersede[i] = old.ID
		}
		var ok bool
		err = v.retry(ctx, func() error {
			var err error
			ok, err = v.store.PromoteResult(ctx, r.ID, snapshot, supersede, v.Now().UTC())
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("promote result %s: %w", r.ID, err)
		}
		if ok {
			v.logger.Info("result validated", "id", r.ID, "module", r.ModuleID, "version", r.ModuleVersion,
				"slice", r.Slice.String(), "superseded", len(supersede))
			v.metrics.ResultDecided(model.ResultValidated)
			for range supersede {
				v.metrics.ResultDecided(model.ResultSuperseded)
			}
			return &Outcome{ResultID: r.ID, Status: model.ResultValidated, Superseded: supersede}, nil
		}

		// The canonical set moved underneath us, or another validator
		// decided this result.
		current, err := v.getResult(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if current == nil || current.Status != model.ResultCandidate {
			return decidedElsewhere(r.ID, current), nil
		}
		v.logger.Debug("promotion raced, retrying", "id", r.ID, "attempt", attempt)
	}
	return nil, fmt.Errorf("result %s: promotion contended %d times: %w",
		r.ID, v.config.MaxPromoteAttempts, model.ErrStoreUnavailable)
}

// reject moves r to REJECTED and records a conflict per contradicted result.
func (v *Validator) reject(ctx context.Context, r *model.Result, reason string, conflicts []*model.Result) (*Outcome, error) {
	now := v.Now().UTC()
	var ids []string
	for _, kept := range conflicts {
		c := &model.Conflict{
			ID:             model.ConflictID(kept.ID, r.ID),
			KeptID:         kept.ID,
			RejectedID:     r.ID,
			KeptModule:     kept.ModuleID,
			RejectedModule: r.ModuleID,
			Slice:          r.Slice,
			Reason:         reason,
			DetectedAt:     now,
		}
		var created bool
		err := v.retry(ctx, func() error {
			var err error
			created, err = v.store.RecordConflict(ctx, c)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("record conflict %s: %w", c.ID, err)
		}
		if created {
			v.logger.Warn("conflict recorded", "id", c.ID, "kept", kept.ID, "rejected", r.ID,
				"kept_module", kept.ModuleID, "rejected_module", r.ModuleID)
			v.metrics.ConflictRecorded()
		}
		ids = append(ids, c.ID)
	}

	var ok bool
	err := v.retry(ctx, func() error {
		var err error
		ok, err = v.store.RejectResult(ctx, r.ID, reason, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reject result %s: %w", r.ID, err)
	}
	if !ok {
		current, err := v.getResult(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return decidedElsewhere(r.ID, current), nil
	}

	v.logger.Info("result rejected", "id", r.ID, "module", r.ModuleID, "reason", reason)
	v.metrics.ResultDecided(model.ResultRejected)
	return &Outcome{ResultID: r.ID, Status: model.ResultRejected, Reason: reason, Conflicts: ids}, nil
}

func decidedElsewhere(id string, current *model.Result) *Outcome {
	if current == nil {
		return &Outcome{ResultID: id, Status: model.ResultRejected, Reason: "result disappeared"}
	}
	return &Outcome{ResultID: id, Status: current.Status, Reason: current.Reason}
}

func (v *Validator) getResult(ctx context.Context, id string) (*model.Result, error) {
	var r *model.Result
	err := v.retry(ctx, func() error {
		var err error
		r, err = v.store.GetResult(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", id, err)
	}
	return r, nil
}

// Sweep validates pending candidates in production order, a page of
// BatchSize at a time. Deferred or failing results do not hold back the ones
// behind them. Failures on one result are logged and do not stop the sweep;
// the joined errors are returned alongside the summary.
func (v *Validator) Sweep(ctx context.Context) (SweepSummary, error) {
	var sum SweepSummary
	var errs []error
	var cursor store.ResultCursor

	for {
		var page []*model.Result
		err := v.retry(ctx, func() error {
			var err error
			page, err = v.store.ListCandidateResults(ctx, cursor, v.config.BatchSize)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("list candidates: %w", err))
			break
		}

		for _, r := range page {
			if ctx.Err() != nil {
				break
			}
			sum.Examined++
			out, err := v.ValidateOne(ctx, r.ID)
			if err != nil {
				v.logger.Error("validate result", "id", r.ID, "error", err)
				sum.Errors++
				errs = append(errs, err)
				continue
			}
			switch {
			case out.Deferred:
				sum.Deferred++
			case out.Status == model.ResultValidated:
				sum.Validated++
				sum.Superseded += len(out.Superseded)
			case out.Status == model.ResultRejected:
				sum.Rejected++
			}
		}

		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if len(page) < v.config.BatchSize {
			break
		}
		cursor = store.CursorAfter(page[len(page)-1])
	}

	if sum.Examined > 0 {
		v.logger.Debug("sweep done", "examined", sum.Examined, "validated", sum.Validated,
			"rejected", sum.Rejected, "deferred", sum.Deferred, "errors", sum.Errors)
	}
	return sum, errors.Join(errs...)
}
