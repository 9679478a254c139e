package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/me/obscore/pkg/model"
)

var workItemFields = []string{
	"id", "module_id", "module_version", "slice_key", "slice_start", "slice_end", "input_seq",
	"state", "lease_holder", "lease_expiry", "attempt_count", "max_attempts",
	"result_id", "last_error", "created_at", "updated_at", "completed_at", "archived_at",
}

func workItemColumns(alias string) string {
	if alias == "" {
		return strings.Join(workItemFields, ", ")
	}
	cols := make([]string, len(workItemFields))
	for i, f := range workItemFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// Fragments shared by the lease candidate query and the claim statement.
const (
	// moduleCurrent holds when w's module is enabled at w's version.
	moduleCurrent = `EXISTS (SELECT 1 FROM modules m
		WHERE m.id = w.module_id AND m.version = w.module_version AND m.enabled = 1)`

	// expiredReclaimable holds when an EXPIRED item may be leased again: no
	// other active item and no newer revision covers its slice.
	expiredReclaimable = `NOT EXISTS (SELECT 1 FROM work_items o
		WHERE o.id != w.id
		  AND o.module_id = w.module_id AND o.module_version = w.module_version
		  AND o.slice_start < w.slice_end AND w.slice_start < o.slice_end
		  AND ((o.state IN ('PENDING', 'LEASED') AND ` + keysOverlap + `)
		       OR (o.slice_key = w.slice_key AND o.input_seq > w.input_seq)))`

	// keysOverlap holds when the slice keys of o and w overlap. The empty
	// key spans every key.
	keysOverlap = `(o.slice_key = w.slice_key OR o.slice_key = '' OR w.slice_key = '')`

	// expiredObsolete holds when an EXPIRED item can never be leased again:
	// its module version was retired or a newer revision covers its slice.
	expiredObsolete = `(NOT EXISTS (SELECT 1 FROM modules m
		WHERE m.id = w.module_id AND m.version = w.module_version)
		OR EXISTS (SELECT 1 FROM work_items o
		WHERE o.module_id = w.module_id AND o.module_version = w.module_version
		  AND o.slice_key = w.slice_key
		  AND o.slice_start < w.slice_end AND w.slice_start < o.slice_end
		  AND o.input_seq > w.input_seq))`
)

// CreateWorkItemIfUncovered inserts w as PENDING unless an item with the same
// ID exists or an active item of the same module version overlaps its slice,
// with the empty key overlapping every key.
func (s *SQLiteStore) CreateWorkItemIfUncovered(ctx context.Context, w *model.WorkItem) (bool, error) {
	s.logger.Debug("sql", "op", "insert_if_uncovered", "table", "work_items", "id", w.ID, "module", w.ModuleID)

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO work_items (id, module_id, module_version, slice_key, slice_start, slice_end,
		   input_seq, state, attempt_count, max_attempts, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, 'PENDING', 0, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM work_items o
		   WHERE o.module_id = ? AND o.module_version = ?
		     AND (o.slice_key = ? OR o.slice_key = '' OR ? = '')
		     AND o.slice_start < ? AND ? < o.slice_end
		     AND o.state IN ('PENDING', 'LEASED'))`,
		w.ID, w.ModuleID, w.ModuleVersion, w.Slice.Key, toNS(w.Slice.Start), toNS(w.Slice.End),
		w.InputSeq, w.MaxAttempts, toNS(w.CreatedAt), toNS(w.UpdatedAt),
		w.ModuleID, w.ModuleVersion, w.Slice.Key, w.Slice.Key, toNS(w.Slice.End), toNS(w.Slice.Start),
	)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		w.State = model.WorkItemPending
	}
	return n > 0, nil
}

// ExpireRetiredWorkItems moves every PENDING or LEASED item whose module is
// missing, disabled or at another version to EXPIRED.
func (s *SQLiteStore) ExpireRetiredWorkItems(ctx context.Context, now time.Time) (int64, error) {
	s.logger.Debug("sql", "op", "expire_retired", "table", "work_items")
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items AS w SET state = 'EXPIRED', lease_holder = '', lease_expiry = NULL, updated_at = ?
		 WHERE w.state IN ('PENDING', 'LEASED') AND NOT `+moduleCurrent,
		toNS(now))
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	s.logger.Debug("sql", "op", "select", "table", "work_items", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+workItemColumns("")+` FROM work_items WHERE id = ?`, id)
	w, err := scanWorkItem(row)
	return w, classify(err)
}

func (s *SQLiteStore) ListWorkItems(ctx context.Context, opts model.ListOptions) ([]*model.WorkItem, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "work_items", "state", opts.State, "module", opts.ModuleID)
	opts.Clamp()

	var conds []string
	var args []any
	if opts.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, opts.State)
	}
	if opts.ModuleID != "" {
		conds = append(conds, "module_id = ?")
		args = append(args, opts.ModuleID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns("")+` FROM work_items`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, classify(err)
	}
	items, err := scanWorkItems(rows)
	return items, total, err
}

// ListLeaseCandidates returns leasable items in FIFO order: oldest created
// first, then fewest attempts, then ID.
func (s *SQLiteStore) ListLeaseCandidates(ctx context.Context, filter model.WorkFilter, limit int) ([]*model.WorkItem, error) {
	s.logger.Debug("sql", "op", "lease_candidates", "table", "work_items", "limit", limit)

	query := `SELECT ` + workItemColumns("w") + ` FROM work_items w
		WHERE (w.state = 'PENDING' OR (w.state = 'EXPIRED' AND ` + expiredReclaimable + `))
		  AND ` + moduleCurrent
	var args []any
	if len(filter.ModuleIDs) > 0 {
		query += ` AND w.module_id IN (` + placeholders(len(filter.ModuleIDs)) + `)`
		for _, id := range filter.ModuleIDs {
			args = append(args, id)
		}
	}
	if filter.Key != "" {
		query += ` AND w.slice_key = ?`
		args = append(args, filter.Key)
	}
	query += ` ORDER BY w.created_at, w.attempt_count, w.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return scanWorkItems(rows)
}

// ClaimWorkItem leases observed to workerID if it is still in the state the
// caller saw. On success observed is updated in place.
func (s *SQLiteStore) ClaimWorkItem(ctx context.Context, observed *model.WorkItem, workerID string, now, expiry time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "claim", "table", "work_items", "id", observed.ID, "worker_id", workerID)

	query := `UPDATE work_items AS w SET state = 'LEASED', lease_holder = ?, lease_expiry = ?, updated_at = ?
		WHERE w.id = ? AND w.state = ? AND w.attempt_count = ? AND ` + moduleCurrent
	if observed.State == model.WorkItemExpired {
		query += ` AND ` + expiredReclaimable
	}
	res, err := s.db.ExecContext(ctx, query,
		workerID, toNS(expiry), toNS(now), observed.ID, string(observed.State), observed.AttemptCount)
	if err != nil {
		return false, classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	observed.State = model.WorkItemLeased
	observed.LeaseHolder = workerID
	observed.LeaseExpiry = &expiry
	observed.UpdatedAt = now
	return true, nil
}

// RenewLease extends a live lease held by workerID.
func (s *SQLiteStore) RenewLease(ctx context.Context, id, workerID string, now, expiry time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "renew", "table", "work_items", "id", id, "worker_id", workerID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET lease_expiry = ?, updated_at = ?
		 WHERE id = ? AND state = 'LEASED' AND lease_holder = ? AND lease_expiry > ?`,
		toNS(expiry), toNS(now), id, workerID, toNS(now))
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteWorkItem marks a live lease COMPLETED with resultID.
func (s *SQLiteStore) CompleteWorkItem(ctx context.Context, id, workerID, resultID string, now time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "complete", "table", "work_items", "id", id, "worker_id", workerID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET state = 'COMPLETED', result_id = ?, lease_holder = '', lease_expiry = NULL,
		   last_error = '', completed_at = ?, updated_at = ?
		 WHERE id = ? AND state = 'LEASED' AND lease_holder = ? AND lease_expiry > ?`,
		resultID, toNS(now), toNS(now), id, workerID, toNS(now))
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailWorkItem records a failed attempt for a live lease. A retryable
// failure returns the item to PENDING while attempts remain; otherwise it
// becomes FAILED. The new state is returned.
func (s *SQLiteStore) FailWorkItem(ctx context.Context, id, workerID, reason string, retryable bool, now time.Time) (model.WorkItemState, bool, error) {
	s.logger.Debug("sql", "op", "fail", "table", "work_items", "id", id, "worker_id", workerID, "retryable", retryable)

	var state string
	err := s.db.QueryRowContext(ctx,
		`UPDATE work_items SET
		   state = CASE WHEN ? = 1 AND attempt_count + 1 <= max_attempts THEN 'PENDING' ELSE 'FAILED' END,
		   completed_at = CASE WHEN ? = 1 AND attempt_count + 1 <= max_attempts THEN NULL ELSE ? END,
		   attempt_count = attempt_count + 1,
		   lease_holder = '', lease_expiry = NULL, last_error = ?, updated_at = ?
		 WHERE id = ? AND state = 'LEASED' AND lease_holder = ? AND lease_expiry > ?
		 RETURNING state`,
		boolToInt(retryable), boolToInt(retryable), toNS(now), reason, toNS(now),
		id, workerID, toNS(now),
	).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return model.WorkItemState(state), true, nil
}

// ListExpiredLeases returns LEASED items whose lease expired at or before now.
func (s *SQLiteStore) ListExpiredLeases(ctx context.Context, now time.Time) ([]*model.WorkItem, error) {
	s.logger.Debug("sql", "op", "expired_leases", "table", "work_items")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns("")+` FROM work_items
		 WHERE state = 'LEASED' AND lease_expiry <= ? ORDER BY lease_expiry, id`,
		toNS(now))
	if err != nil {
		return nil, classify(err)
	}
	return scanWorkItems(rows)
}

// ReclaimWorkItem resets an expired lease the caller observed. The item
// returns to PENDING with one more attempt, or becomes FAILED once the
// attempt count exceeds its maximum.
func (s *SQLiteStore) ReclaimWorkItem(ctx context.Context, observed *model.WorkItem, now time.Time) (model.WorkItemState, bool, error) {
	s.logger.Debug("sql", "op", "reclaim", "table", "work_items", "id", observed.ID)
	if observed.LeaseExpiry == nil {
		return "", false, nil
	}

	var state string
	err := s.db.QueryRowContext(ctx,
		`UPDATE work_items SET
		   state = CASE WHEN attempt_count + 1 > max_attempts THEN 'FAILED' ELSE 'PENDING' END,
		   last_error = CASE WHEN attempt_count + 1 > max_attempts THEN ? ELSE 'lease expired' END,
		   completed_at = CASE WHEN attempt_count + 1 > max_attempts THEN ? ELSE NULL END,
		   attempt_count = attempt_count + 1,
		   lease_holder = '', lease_expiry = NULL, updated_at = ?
		 WHERE id = ? AND state = 'LEASED' AND lease_holder = ? AND lease_expiry = ? AND lease_expiry <= ?
		 RETURNING state`,
		model.ErrMaxAttemptsExceeded.Error(), toNS(now), toNS(now),
		observed.ID, observed.LeaseHolder, toNS(*observed.LeaseExpiry), toNS(now),
	).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return model.WorkItemState(state), true, nil
}

// ListArchivable returns terminal items not yet archived. A COMPLETED item
// qualifies only once its result left CANDIDATE, an EXPIRED one only once it
// is obsolete.
func (s *SQLiteStore) ListArchivable(ctx context.Context, limit int) ([]*model.WorkItem, error) {
	s.logger.Debug("sql", "op", "archivable", "table", "work_items", "limit", limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns("w")+` FROM work_items w
		 WHERE w.archived_at IS NULL
		   AND (w.state = 'FAILED'
		        OR (w.state = 'EXPIRED' AND `+expiredObsolete+`)
		        OR (w.state = 'COMPLETED' AND EXISTS (SELECT 1 FROM results r
		              WHERE r.id = w.result_id AND r.status != 'CANDIDATE')))
		 ORDER BY w.updated_at, w.id LIMIT ?`,
		limit)
	if err != nil {
		return nil, classify(err)
	}
	return scanWorkItems(rows)
}

func (s *SQLiteStore) MarkArchived(ctx context.Context, id string, now time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "mark_archived", "table", "work_items", "id", id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET archived_at = ? WHERE id = ? AND archived_at IS NULL`,
		toNS(now), id)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanWorkItem(row scanner) (*model.WorkItem, error) {
	var w model.WorkItem
	var state string
	var sliceStart, sliceEnd, createdAt, updatedAt int64
	var leaseExpiry, completedAt, archivedAt sql.NullInt64

	err := row.Scan(
		&w.ID, &w.ModuleID, &w.ModuleVersion, &w.Slice.Key, &sliceStart, &sliceEnd, &w.InputSeq,
		&state, &w.LeaseHolder, &leaseExpiry, &w.AttemptCount, &w.MaxAttempts,
		&w.ResultID, &w.LastError, &createdAt, &updatedAt, &completedAt, &archivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	w.State = model.WorkItemState(state)
	w.Slice.Start = fromNS(sliceStart)
	w.Slice.End = fromNS(sliceEnd)
	w.LeaseExpiry = timePtr(leaseExpiry)
	w.CreatedAt = fromNS(createdAt)
	w.UpdatedAt = fromNS(updatedAt)
	w.CompletedAt = timePtr(completedAt)
	w.ArchivedAt = timePtr(archivedAt)
	return &w, nil
}

// scanWorkItems drains and closes rows.
func scanWorkItems(rows *sql.Rows) ([]*model.WorkItem, error) {
	defer rows.Close()
	var items []*model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, classify(rows.Err())
}
