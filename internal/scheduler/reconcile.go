package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/obscore/internal/slicing"
	"github.com/me/obscore/pkg/model"
)

// ReconcileSummary reports what one Reconcile pass changed.
type ReconcileSummary struct {
	Expired int64 `json:"expired"`
	Planned int   `json:"planned"`
	Created int   `json:"created"`
}

// Reconcile expires work of retired modules and creates a PENDING work item
// for every slice of an enabled module that has input but no covering item.
// Running it twice without new input changes nothing.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary
	now := s.now()

	err := s.retry(ctx, func() error {
		n, err := s.store.ExpireRetiredWorkItems(ctx, now)
		sum.Expired = n
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("expire retired work items: %w", err)
	}
	if sum.Expired > 0 {
		s.logger.Info("work items expired", "count", sum.Expired)
		s.metrics.WorkItemsExpired(sum.Expired)
	}

	var modules []*model.ModuleDescriptor
	err = s.retry(ctx, func() error {
		var err error
		modules, err = s.store.ListModules(ctx)
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("list modules: %w", err)
	}

	var errs []error
	for _, m := range modules {
		if !m.Enabled {
			continue
		}
		planned, created, err := s.reconcileModule(ctx, m, now)
		sum.Planned += planned
		sum.Created += created
		if err != nil {
			s.logger.Error("reconcile module", "module", m.ID, "version", m.Version, "error", err)
			errs = append(errs, fmt.Errorf("module %s: %w", m.ID, err))
		}
	}
	return sum, errors.Join(errs...)
}

func (s *Scheduler) reconcileModule(ctx context.Context, m *model.ModuleDescriptor, now time.Time) (int, int, error) {
	var planner *slicing.Planner
	err := s.retry(ctx, func() error {
		planner = slicing.NewPlanner(m)
		return s.store.ScanInputs(ctx, m.InputKinds, func(rec *model.InputRecord) error {
			if err := planner.Add(rec); err != nil {
				s.logger.Warn("input skipped", "module", m.ID, "error", err)
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, fmt.Errorf("scan inputs: %w", err)
	}

	maxAttempts := s.config.MaxAttempts
	if m.MaxAttempts > 0 {
		maxAttempts = m.MaxAttempts
	}

	slices := planner.Slices()
	created := 0
	for _, p := range slices {
		w := &model.WorkItem{
			ID:            model.WorkItemID(m.ID, m.Version, p.Slice, p.InputSeq),
			ModuleID:      m.ID,
			ModuleVersion: m.Version,
			Slice:         p.Slice,
			InputSeq:      p.InputSeq,
			State:         model.WorkItemPending,
			MaxAttempts:   maxAttempts,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		var ok bool
		err := s.retry(ctx, func() error {
			var err error
			ok, err = s.store.CreateWorkItemIfUncovered(ctx, w)
			return err
		})
		if err != nil {
			return len(slices), created, fmt.Errorf("create work item for %s: %w", p.Slice, err)
		}
		if ok {
			created++
			s.logger.Debug("work item created", "id", w.ID, "module", m.ID, "slice", p.Slice.String(), "input_seq", p.InputSeq)
		}
	}

	if created > 0 {
		s.logger.Info("work items planned", "module", m.ID, "version", m.Version, "created", created)
		s.metrics.WorkItemsCreated(m.ID, created)
	}
	return len(slices), created, nil
}
