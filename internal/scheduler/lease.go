package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/me/obscore/pkg/model"
)

// AcquireLease grants workerID a lease on the oldest eligible work item
// matching filter. It returns model.ErrNoWorkAvailable when nothing can be
// claimed.
func (s *Scheduler) AcquireLease(ctx context.Context, workerID string, filter model.WorkFilter) (*model.WorkItem, error) {
	if workerID == "" {
		return nil, model.NewValidationError("worker_id is required")
	}

	var candidates []*model.WorkItem
	err := s.retry(ctx, func() error {
		var err error
		candidates, err = s.store.ListLeaseCandidates(ctx, filter, s.config.CandidateBatch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list lease candidates: %w", err)
	}

	for _, w := range candidates {
		now := s.now()
		expiry := now.Add(s.config.LeaseDuration)
		var ok bool
		err := s.retry(ctx, func() error {
			var err error
			ok, err = s.store.ClaimWorkItem(ctx, w, workerID, now, expiry)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("claim work item %s: %w", w.ID, err)
		}
		if !ok {
			// Another worker won the race for this one.
			continue
		}
		s.logger.Info("lease acquired", "id", w.ID, "module", w.ModuleID, "worker_id", workerID,
			"slice", w.Slice.String(), "attempt", w.AttemptCount)
		s.metrics.LeaseAcquired(w.ModuleID)
		return w, nil
	}
	return nil, model.ErrNoWorkAvailable
}

// RenewLease extends workerID's lease on itemID by the lease duration and
// returns the new expiry.
func (s *Scheduler) RenewLease(ctx context.Context, itemID, workerID string) (time.Time, error) {
	now := s.now()
	expiry := now.Add(s.config.LeaseDuration)
	var ok bool
	err := s.retry(ctx, func() error {
		var err error
		ok, err = s.store.RenewLease(ctx, itemID, workerID, now, expiry)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("renew lease %s: %w", itemID, err)
	}
	if !ok {
		s.metrics.LeaseLost("renew")
		return time.Time{}, s.leaseError(ctx, itemID)
	}
	s.logger.Debug("lease renewed", "id", itemID, "worker_id", workerID, "expiry", expiry)
	return expiry, nil
}

// SubmitResult records payload as the CANDIDATE result of workerID's current
// attempt on itemID. Resubmitting the same attempt returns the stored result.
func (s *Scheduler) SubmitResult(ctx context.Context, itemID, workerID string, payload json.RawMessage) (*model.Result, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("[]")
	}
	if !json.Valid(payload) {
		return nil, model.NewValidationError("payload is not valid JSON")
	}

	w, err := s.getWorkItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !w.HasLiveLease(workerID, now) {
		s.metrics.LeaseLost("submit")
		return nil, s.leaseError(ctx, itemID)
	}

	r := &model.Result{
		ID:            model.ResultID(w.ID, w.AttemptCount, workerID),
		WorkItemID:    w.ID,
		ModuleID:      w.ModuleID,
		ModuleVersion: w.ModuleVersion,
		Slice:         w.Slice,
		InputSeq:      w.InputSeq,
		ProducedBy:    workerID,
		ProducedAt:    now,
		Payload:       payload,
		Status:        model.ResultCandidate,
	}

	var inserted bool
	err = s.retry(ctx, func() error {
		var err error
		inserted, err = s.store.InsertCandidateResult(ctx, r, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert result for %s: %w", itemID, err)
	}
	if inserted {
		s.logger.Info("result submitted", "id", r.ID, "work_item_id", itemID, "worker_id", workerID)
		return r, nil
	}

	var existing *model.Result
	err = s.retry(ctx, func() error {
		var err error
		existing, err = s.store.GetResult(ctx, r.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", r.ID, err)
	}
	if existing != nil && existing.WorkItemID == itemID && existing.ProducedBy == workerID {
		return existing, nil
	}
	s.metrics.LeaseLost("submit")
	return nil, s.leaseError(ctx, itemID)
}

// CompleteLease marks itemID COMPLETED with resultID. The result must have
// been submitted by workerID for this item, and the lease must still be live.
func (s *Scheduler) CompleteLease(ctx context.Context, itemID, workerID, resultID string) error {
	var r *model.Result
	err := s.retry(ctx, func() error {
		var err error
		r, err = s.store.GetResult(ctx, resultID)
		return err
	})
	if err != nil {
		return fmt.Errorf("get result %s: %w", resultID, err)
	}
	if r == nil {
		return fmt.Errorf("result %s: %w", resultID, model.ErrNotFound)
	}
	if r.WorkItemID != itemID || r.ProducedBy != workerID {
		return model.NewValidationError("result does not belong to this work item and worker",
			model.FieldError{Field: "result_id", Message: resultID})
	}

	var ok bool
	err = s.retry(ctx, func() error {
		var err error
		ok, err = s.store.CompleteWorkItem(ctx, itemID, workerID, resultID, s.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("complete work item %s: %w", itemID, err)
	}
	if !ok {
		s.metrics.LeaseLost("complete")
		return s.leaseError(ctx, itemID)
	}
	s.logger.Info("work item completed", "id", itemID, "worker_id", workerID, "result_id", resultID)
	return nil
}

// ReportFailure records a failed attempt. A retryable failure returns the
// item to PENDING while attempts remain; otherwise it becomes FAILED.
func (s *Scheduler) ReportFailure(ctx context.Context, itemID, workerID, reason string, retryable bool) (model.WorkItemState, error) {
	var state model.WorkItemState
	var ok bool
	err := s.retry(ctx, func() error {
		var err error
		state, ok, err = s.store.FailWorkItem(ctx, itemID, workerID, reason, retryable, s.now())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fail work item %s: %w", itemID, err)
	}
	if !ok {
		s.metrics.LeaseLost("fail")
		return "", s.leaseError(ctx, itemID)
	}

	s.metrics.FailureReported(state)
	if state == model.WorkItemFailed {
		s.logger.Warn("work item failed", "id", itemID, "worker_id", workerID, "reason", reason, "retryable", retryable)
	} else {
		s.logger.Info("work item returned to pending", "id", itemID, "worker_id", workerID, "reason", reason)
	}
	return state, nil
}

// ReclaimSummary reports what one ReclaimExpired pass changed.
type ReclaimSummary struct {
	Reclaimed int `json:"reclaimed"`
	Failed    int `json:"failed"`
}

// ReclaimExpired resets every LEASED item whose lease has expired. Items
// that run out of attempts become FAILED.
func (s *Scheduler) ReclaimExpired(ctx context.Context) (ReclaimSummary, error) {
	var sum ReclaimSummary
	now := s.now()

	var expired []*model.WorkItem
	err := s.retry(ctx, func() error {
		var err error
		expired, err = s.store.ListExpiredLeases(ctx, now)
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("list expired leases: %w", err)
	}

	for _, w := range expired {
		var state model.WorkItemState
		var ok bool
		err := s.retry(ctx, func() error {
			var err error
			state, ok, err = s.store.ReclaimWorkItem(ctx, w, now)
			return err
		})
		if err != nil {
			return sum, fmt.Errorf("reclaim %s: %w", w.ID, err)
		}
		if !ok {
			// Renewed, completed or reclaimed elsewhere since the scan.
			continue
		}
		s.metrics.LeaseReclaimed(state)
		if state == model.WorkItemFailed {
			sum.Failed++
			s.logger.Warn("work item failed", "id", w.ID, "module", w.ModuleID,
				"error", model.ErrMaxAttemptsExceeded, "attempts", w.AttemptCount+1)
		} else {
			sum.Reclaimed++
			s.logger.Info("lease reclaimed", "id", w.ID, "module", w.ModuleID,
				"previous_holder", w.LeaseHolder, "attempt", w.AttemptCount+1)
		}
	}
	return sum, nil
}

func (s *Scheduler) getWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	var w *model.WorkItem
	err := s.retry(ctx, func() error {
		var err error
		w, err = s.store.GetWorkItem(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get work item %s: %w", id, err)
	}
	if w == nil {
		return nil, fmt.Errorf("work item %s: %w", id, model.ErrNotFound)
	}
	return w, nil
}

// leaseError explains why a lease condition failed: the item refers to a
// retired module version, or the caller simply lost its lease.
func (s *Scheduler) leaseError(ctx context.Context, itemID string) error {
	w, err := s.getWorkItem(ctx, itemID)
	if err != nil {
		return err
	}
	var m *model.ModuleDescriptor
	err = s.retry(ctx, func() error {
		var err error
		m, err = s.store.GetModule(ctx, w.ModuleID)
		return err
	})
	if err != nil {
		return fmt.Errorf("get module %s: %w", w.ModuleID, err)
	}
	if m == nil || m.Version != w.ModuleVersion || (w.State == model.WorkItemExpired && !m.Enabled) {
		return fmt.Errorf("work item %s (module %s v%d): %w", itemID, w.ModuleID, w.ModuleVersion, model.ErrStaleModuleVersion)
	}
	return fmt.Errorf("work item %s: %w", itemID, model.ErrLeaseLost)
}
