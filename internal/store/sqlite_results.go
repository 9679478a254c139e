package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/me/obscore/pkg/model"
)

const resultColumns = `id, work_item_id, module_id, module_version, slice_key, slice_start, slice_end,
	input_seq, produced_by, produced_at, payload, status, reason, superseded_by, validated_at, validated_rev`

// overlapsSlice matches rows whose slice overlaps the bound slice. Parameters:
// end, start, key, key.
const overlapsSlice = `slice_start < ? AND ? < slice_end AND (slice_key = '' OR ? = '' OR slice_key = ?)`

// InsertCandidateResult stores r as a CANDIDATE, copying its identity from
// the owning work item. The insert only happens while r.ProducedBy holds a
// live lease on that item. Inserting an existing ID is a no-op.
func (s *SQLiteStore) InsertCandidateResult(ctx context.Context, r *model.Result, now time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "insert_candidate", "table", "results", "id", r.ID, "work_item_id", r.WorkItemID)

	payload := string(r.Payload)
	if payload == "" {
		payload = "[]"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO results (id, work_item_id, module_id, module_version, slice_key, slice_start,
		   slice_end, input_seq, produced_by, produced_at, payload, status)
		 SELECT ?, w.id, w.module_id, w.module_version, w.slice_key, w.slice_start,
		   w.slice_end, w.input_seq, ?, ?, ?, 'CANDIDATE'
		 FROM work_items w
		 WHERE w.id = ? AND w.state = 'LEASED' AND w.lease_holder = ? AND w.lease_expiry > ?`,
		r.ID, r.ProducedBy, toNS(r.ProducedAt), payload,
		r.WorkItemID, r.ProducedBy, toNS(now),
	)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.Result, error) {
	s.logger.Debug("sql", "op", "select", "table", "results", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	r, err := scanResult(row)
	return r, classify(err)
}

func (s *SQLiteStore) ListResults(ctx context.Context, opts model.ListOptions) ([]*model.Result, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "results", "status", opts.State, "module", opts.ModuleID)
	opts.Clamp()

	var conds []string
	var args []any
	if opts.State != "" {
		conds = append(conds, "status = ?")
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results`+where+` ORDER BY produced_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, classify(err)
	}
	results, err := scanResults(rows)
	return results, total, err
}

// ListCandidateResults returns CANDIDATE results in production order,
// starting strictly after the cursor.
func (s *SQLiteStore) ListCandidateResults(ctx context.Context, after ResultCursor, limit int) ([]*model.Result, error) {
	s.logger.Debug("sql", "op", "candidates", "table", "results", "after", after.ID, "limit", limit)
	query := `SELECT ` + resultColumns + ` FROM results WHERE status = 'CANDIDATE'`
	var args []any
	if after.ID != "" {
		ns := toNS(after.ProducedAt)
		query += ` AND (produced_at > ? OR (produced_at = ? AND id > ?))`
		args = append(args, ns, ns, after.ID)
	}
	query += ` ORDER BY produced_at, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, classify(err)
	}
	return scanResults(rows)
}

func (s *SQLiteStore) ListResultsByWorkItem(ctx context.Context, workItemID string) ([]*model.Result, error) {
	s.logger.Debug("sql", "op", "list_by_work_item", "table", "results", "work_item_id", workItemID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE work_item_id = ? ORDER BY produced_at, id`,
		workItemID)
	if err != nil {
		return nil, classify(err)
	}
	return scanResults(rows)
}

// ListValidatedResults returns the canonical results of one module (or all
// modules when moduleID is empty) ordered by slice start.
func (s *SQLiteStore) ListValidatedResults(ctx context.Context, moduleID string) ([]*model.Result, error) {
	s.logger.Debug("sql", "op", "validated", "table", "results", "module", moduleID)
	query := `SELECT ` + resultColumns + ` FROM results WHERE status = 'VALIDATED'`
	var args []any
	if moduleID != "" {
		query += ` AND module_id = ?`
		args = append(args, moduleID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY slice_start, slice_key, id`, args...)
	if err != nil {
		return nil, classify(err)
	}
	return scanResults(rows)
}

// ListOverlappingValidated returns VALIDATED results of any module whose
// slice overlaps slice, in promotion order.
func (s *SQLiteStore) ListOverlappingValidated(ctx context.Context, slice model.DataSlice, excludeID string) ([]*model.Result, error) {
	s.logger.Debug("sql", "op", "overlapping", "table", "results", "slice", slice.String())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results
		 WHERE status = 'VALIDATED' AND id != ? AND `+overlapsSlice+`
		 ORDER BY validated_rev, id`,
		excludeID, toNS(slice.End), toNS(slice.Start), slice.Key, slice.Key)
	if err != nil {
		return nil, classify(err)
	}
	return scanResults(rows)
}

// MaxValidatedRev returns the newest promotion counter, 0 if nothing has
// been validated.
func (s *SQLiteStore) MaxValidatedRev(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(validated_rev), 0) FROM results`).Scan(&rev)
	return rev, classify(err)
}

// RejectResult moves a CANDIDATE to REJECTED.
func (s *SQLiteStore) RejectResult(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "reject", "table", "results", "id", id, "reason", reason)
	res, err := s.db.ExecContext(ctx,
		`UPDATE results SET status = 'REJECTED', reason = ?, validated_at = ?
		 WHERE id = ? AND status = 'CANDIDATE'`,
		reason, toNS(now), id)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PromoteResult validates a CANDIDATE and supersedes the listed VALIDATED
// results in one transaction. It fails without changes if any overlapping
// result was promoted after snapshotRev or any listed result is no longer
// VALIDATED.
func (s *SQLiteStore) PromoteResult(ctx context.Context, id string, snapshotRev int64, supersede []string, now time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "promote", "table", "results", "id", id, "snapshot_rev", snapshotRev, "supersede", len(supersede))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE results AS r SET status = 'VALIDATED', reason = '', validated_at = ?,
		   validated_rev = (SELECT COALESCE(MAX(validated_rev), 0) + 1 FROM results)
		 WHERE r.id = ? AND r.status = 'CANDIDATE'
		   AND NOT EXISTS (SELECT 1 FROM results o
		     WHERE o.status = 'VALIDATED' AND o.validated_rev > ? AND o.id != r.id
		       AND o.slice_start < r.slice_end AND r.slice_start < o.slice_end
		       AND (o.slice_key = '' OR r.slice_key = '' OR o.slice_key = r.slice_key))`,
		toNS(now), id, snapshotRev)
	if err != nil {
		return false, classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	for _, old := range supersede {
		res, err := tx.ExecContext(ctx,
			`UPDATE results SET status = 'SUPERSEDED', superseded_by = ?
			 WHERE id = ? AND status = 'VALIDATED'`,
			id, old)
		if err != nil {
			return false, classify(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, classify(err)
	}
	return true, nil
}

// --- Conflicts ---

// RecordConflict stores c unless a conflict with the same ID exists.
func (s *SQLiteStore) RecordConflict(ctx context.Context, c *model.Conflict) (bool, error) {
	s.logger.Debug("sql", "op", "insert", "table", "conflicts", "id", c.ID)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conflicts (id, kept_id, rejected_id, kept_module, rejected_module,
		   slice_key, slice_start, slice_end, reason, detected_at, acknowledged)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.KeptID, c.RejectedID, c.KeptModule, c.RejectedModule,
		c.Slice.Key, toNS(c.Slice.Start), toNS(c.Slice.End), c.Reason, toNS(c.DetectedAt),
		boolToInt(c.Acknowledged))
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const conflictColumns = `id, kept_id, rejected_id, kept_module, rejected_module,
	slice_key, slice_start, slice_end, reason, detected_at, acknowledged`

// ListConflicts lists conflicts newest first. opts.State selects "open" or
// "acknowledged" conflicts; empty lists all.
func (s *SQLiteStore) ListConflicts(ctx context.Context, opts model.ListOptions) ([]*model.Conflict, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "conflicts", "state", opts.State)
	opts.Clamp()

	where := ""
	switch opts.State {
	case "open":
		where = " WHERE acknowledged = 0"
	case "acknowledged":
		where = " WHERE acknowledged = 1"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts`+where).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts`+where+` ORDER BY detected_at DESC, id LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	var conflicts []*model.Conflict
	for rows.Next() {
		var c model.Conflict
		var start, end, detected int64
		var acked int
		if err := rows.Scan(&c.ID, &c.KeptID, &c.RejectedID, &c.KeptModule, &c.RejectedModule,
			&c.Slice.Key, &start, &end, &c.Reason, &detected, &acked); err != nil {
			return nil, 0, err
		}
		c.Slice.Start = fromNS(start)
		c.Slice.End = fromNS(end)
		c.DetectedAt = fromNS(detected)
		c.Acknowledged = acked != 0
		conflicts = append(conflicts, &c)
	}
	return conflicts, total, classify(rows.Err())
}

// AckConflict marks a conflict acknowledged. The returned bool is false if
// the conflict does not exist.
func (s *SQLiteStore) AckConflict(ctx context.Context, id string) (bool, error) {
	s.logger.Debug("sql", "op", "ack", "table", "conflicts", "id", id)
	res, err := s.db.ExecContext(ctx, `UPDATE conflicts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Stats counts records per state.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	s.logger.Debug("sql", "op", "stats")
	st := &model.Stats{
		WorkItems: make(map[model.WorkItemState]int),
		Results:   make(map[model.ResultStatus]int),
	}
	for _, state := range model.AllWorkItemStates {
		st.WorkItems[state] = 0
	}
	for _, status := range model.AllResultStatuses {
		st.Results[status] = 0
	}

	if err := s.groupCount(ctx, `SELECT state, COUNT(*) FROM work_items GROUP BY state`, func(k string, n int) {
		st.WorkItems[model.WorkItemState(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM results GROUP BY status`, func(k string, n int) {
		st.Results[model.ResultStatus(k)] = n
	}); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM conflicts WHERE acknowledged = 0),
		        (SELECT COUNT(*) FROM modules),
		        (SELECT COUNT(*) FROM inputs)`,
	).Scan(&st.OpenConflicts, &st.Modules, &st.Inputs)
	if err != nil {
		return nil, classify(err)
	}
	return st, nil
}

func (s *SQLiteStore) groupCount(ctx context.Context, query string, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return classify(rows.Err())
}

func scanResult(row scanner) (*model.Result, error) {
	var r model.Result
	var status, payload string
	var sliceStart, sliceEnd, producedAt int64
	var validatedAt sql.NullInt64

	err := row.Scan(
		&r.ID, &r.WorkItemID, &r.ModuleID, &r.ModuleVersion, &r.Slice.Key, &sliceStart, &sliceEnd,
		&r.InputSeq, &r.ProducedBy, &producedAt, &payload, &status, &r.Reason, &r.SupersededBy,
		&validatedAt, &r.ValidatedRev,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.Status = model.ResultStatus(status)
	r.Payload = []byte(payload)
	r.Slice.Start = fromNS(sliceStart)
	r.Slice.End = fromNS(sliceEnd)
	r.ProducedAt = fromNS(producedAt)
	r.ValidatedAt = timePtr(validatedAt)
	return &r, nil
}

// scanResults drains and closes rows.
func scanResults(rows *sql.Rows) ([]*model.Result, error) {
	defer rows.Close()
	var results []*model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, classify(rows.Err())
}
