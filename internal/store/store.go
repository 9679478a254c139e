package store

import (
	"context"
	"time"

	"github.com/me/obscore/pkg/model"
)

// Store is the shared state store. Every mutating operation that more than
// one process may race on is a single conditional statement; the boolean
// return reports whether the condition held.
type Store interface {
	// Input records (append-only)
	AppendInput(ctx context.Context, rec *model.InputRecord) (bool, error)
	GetInput(ctx context.Context, id string) (*model.InputRecord, error)
	ListInputs(ctx context.Context, opts model.ListOptions) ([]*model.InputRecord, int, error)
	// ScanInputs calls fn for every input of the given kinds in Seq order.
	// fn must not call back into the store.
	ScanInputs(ctx context.Context, kinds []string, fn func(*model.InputRecord) error) error

	// Module registry
	RegisterModule(ctx context.Context, m *model.ModuleDescriptor) error
	GetModule(ctx context.Context, id string) (*model.ModuleDescriptor, error)
	ListModules(ctx context.Context) ([]*model.ModuleDescriptor, error)
	SetModuleEnabled(ctx context.Context, id string, enabled bool, now time.Time) (bool, error)

	// Work items
	CreateWorkItemIfUncovered(ctx context.Context, w *model.WorkItem) (bool, error)
	ExpireRetiredWorkItems(ctx context.Context, now time.Time) (int64, error)
	GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error)
	ListWorkItems(ctx context.Context, opts model.ListOptions) ([]*model.WorkItem, int, error)
	ListLeaseCandidates(ctx context.Context, filter model.WorkFilter, limit int) ([]*model.WorkItem, error)
	ClaimWorkItem(ctx context.Context, observed *model.WorkItem, workerID string, now, expiry time.Time) (bool, error)
	RenewLease(ctx context.Context, id, workerID string, now, expiry time.Time) (bool, error)
	CompleteWorkItem(ctx context.Context, id, workerID, resultID string, now time.Time) (bool, error)
	FailWorkItem(ctx context.Context, id, workerID, reason string, retryable bool, now time.Time) (model.WorkItemState, bool, error)
	ListExpiredLeases(ctx context.Context, now time.Time) ([]*model.WorkItem, error)
	ReclaimWorkItem(ctx context.Context, observed *model.WorkItem, now time.Time) (model.WorkItemState, bool, error)
	ListArchivable(ctx context.Context, limit int) ([]*model.WorkItem, error)
	MarkArchived(ctx context.Context, id string, now time.Time) (bool, error)

	// Results
	InsertCandidateResult(ctx context.Context, r *model.Result, now time.Time) (bool, error)
	GetResult(ctx context.Context, id string) (*model.Result, error)
	ListResults(ctx context.Context, opts model.ListOptions) ([]*model.Result, int, error)
	ListCandidateResults(ctx context.Context, after ResultCursor, limit int) ([]*model.Result, error)
	ListResultsByWorkItem(ctx context.Context, workItemID string) ([]*model.Result, error)
	ListValidatedResults(ctx context.Context, moduleID string) ([]*model.Result, error)
	ListOverlappingValidated(ctx context.Context, slice model.DataSlice, excludeID string) ([]*model.Result, error)
	MaxValidatedRev(ctx context.Context) (int64, error)
	RejectResult(ctx context.Context, id, reason string, now time.Time) (bool, error)
	PromoteResult(ctx context.Context, id string, snapshotRev int64, supersede []string, now time.Time) (bool, error)

	// Conflicts
	RecordConflict(ctx context.Context, c *model.Conflict) (bool, error)
	ListConflicts(ctx context.Context, opts model.ListOptions) ([]*model.Conflict, int, error)
	AckConflict(ctx context.Context, id string) (bool, error)

	Stats(ctx context.Context) (*model.Stats, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// ResultCursor is a position in production order. The zero value starts at
// the oldest result.
type ResultCursor struct {
	ProducedAt time.Time
	ID         string
}

// CursorAfter returns the position just past r.
func CursorAfter(r *model.Result) ResultCursor {
	return ResultCursor{ProducedAt: r.ProducedAt, ID: r.ID}
}
