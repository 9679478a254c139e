package model

import "time"

// WorkItem is a schedulable, leasable unit: run module ModuleID at
// ModuleVersion over Slice. InputSeq is the newest input record inside the
// slice when the item was planned; it distinguishes re-executions.
type WorkItem struct {
	ID            string        `json:"id"`
	ModuleID      string        `json:"module_id"`
	ModuleVersion int           `json:"module_version"`
	Slice         DataSlice     `json:"slice"`
	InputSeq      int64         `json:"input_seq"`
	State         WorkItemState `json:"state"`

	// Lease, embedded. LeaseHolder is empty unless State is LEASED.
	LeaseHolder string     `json:"lease_holder,omitempty"`
	LeaseExpiry *time.Time `json:"lease_expiry,omitempty"`

	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`
	ResultID     string `json:"result_id,omitempty"`
	LastError    string `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// HasLiveLease reports whether workerID holds an unexpired lease at now.
func (w *WorkItem) HasLiveLease(workerID string, now time.Time) bool {
	return w.State == WorkItemLeased &&
		w.LeaseHolder == workerID &&
		w.LeaseExpiry != nil && now.Before(*w.LeaseExpiry)
}

// WorkFilter restricts which work items AcquireLease may hand out.
type WorkFilter struct {
	ModuleIDs []string `json:"module_ids,omitempty"`
	Key       string   `json:"key,omitempty"`
}

// Matches reports whether the item satisfies the filter.
func (f WorkFilter) Matches(w *WorkItem) bool {
	if f.Key != "" && w.Slice.Key != f.Key {
		return false
	}
	if len(f.ModuleIDs) == 0 {
		return true
	}
	for _, id := range f.ModuleIDs {
		if id == w.ModuleID {
			return true
		}
	}
	return false
}

// Assignment is what an execution substrate receives on a successful
// acquire: the leased item plus the argv of its module.
type Assignment struct {
	WorkItem
	Command []string `json:"command,omitempty"`
}
