// Package archive exports terminal work items, together with their results,
// to a document sink and marks them archived. Rows are never deleted.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/pkg/model"
)

// Record is the archived document for one work item.
type Record struct {
	WorkItem   *model.WorkItem `json:"work_item"`
	Results    []*model.Result `json:"results"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Archiver moves terminal work items to a Sink.
type Archiver struct {
	store  store.Store
	sink   Sink
	batch  int
	logger *slog.Logger

	// Now returns the current time.
	Now func() time.Time
}

// New creates an Archiver that exports up to batch items per pass.
func New(st store.Store, sink Sink, batch int, logger *slog.Logger) *Archiver {
	if batch <= 0 {
		batch = 100
	}
	return &Archiver{
		store:  st,
		sink:   sink,
		batch:  batch,
		logger: logger.With("component", "archiver"),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the sink key for a work item.
func Key(w *model.WorkItem) string {
	return fmt.Sprintf("%s/v%d/%s.json", w.ModuleID, w.ModuleVersion, w.ID)
}

// ArchiveOnce exports one batch of archivable work items and returns how
// many were marked archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	items, err := a.store.ListArchivable(ctx, a.batch)
	if err != nil {
		return 0, fmt.Errorf("list archivable: %w", err)
	}

	archived := 0
	for _, w := range items {
		results, err := a.store.ListResultsByWorkItem(ctx, w.ID)
		if err != nil {
			return archived, fmt.Errorf("list results for %s: %w", w.ID, err)
		}

		now := a.Now()
		data, err := json.MarshalIndent(Record{WorkItem: w, Results: results, ArchivedAt: now}, "", "  ")
		if err != nil {
			return archived, fmt.Errorf("marshal %s: %w", w.ID, err)
		}
		key := Key(w)
		if err := a.sink.Put(ctx, key, data); err != nil {
			return archived, fmt.Errorf("archive %s: %w", w.ID, err)
		}

		ok, err := a.store.MarkArchived(ctx, w.ID, now)
		if err != nil {
			return archived, fmt.Errorf("mark archived %s: %w", w.ID, err)
		}
		if !ok {
			// Archived by another process.
			continue
		}
		a.logger.Debug("work item archived", "id", w.ID, "key", key, "state", w.State, "results", len(results))
		archived++
	}
	return archived, nil
}
