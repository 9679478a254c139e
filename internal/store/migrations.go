package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all tables. Each statement uses IF NOT EXISTS
// for idempotency. Timestamps are INTEGER unix nanoseconds so that range
// predicates compare numerically.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inputs (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		kind        TEXT NOT NULL,
		key         TEXT NOT NULL DEFAULT '',
		start_ns    INTEGER NOT NULL,
		end_ns      INTEGER NOT NULL,
		payload_ref TEXT NOT NULL DEFAULT '',
		ingested_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inputs_kind_seq ON inputs(kind, seq)`,

	`CREATE TABLE IF NOT EXISTS modules (
		id               TEXT PRIMARY KEY,
		version          INTEGER NOT NULL,
		input_kinds      TEXT NOT NULL DEFAULT '[]',
		output_kinds     TEXT NOT NULL DEFAULT '[]',
		granularity      TEXT NOT NULL,
		partition_by_key INTEGER NOT NULL DEFAULT 0,
		enabled          INTEGER NOT NULL DEFAULT 1,
		command          TEXT NOT NULL DEFAULT '[]',
		max_attempts     INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS work_items (
		id             TEXT PRIMARY KEY,
		module_id      TEXT NOT NULL,
		module_version INTEGER NOT NULL,
		slice_key      TEXT NOT NULL DEFAULT '',
		slice_start    INTEGER NOT NULL,
		slice_end      INTEGER NOT NULL,
		input_seq      INTEGER NOT NULL DEFAULT 0,
		state          TEXT NOT NULL DEFAULT 'PENDING',
		lease_holder   TEXT NOT NULL DEFAULT '',
		lease_expiry   INTEGER,
		attempt_count  INTEGER NOT NULL DEFAULT 0,
		max_attempts   INTEGER NOT NULL DEFAULT 3,
		result_id      TEXT NOT NULL DEFAULT '',
		last_error     TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		completed_at   INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_state ON work_items(state)`,
	// Lease candidate scan (state + FIFO order).
	`CREATE INDEX IF NOT EXISTS idx_work_items_state_created ON work_items(state, created_at, attempt_count)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_slice ON work_items(module_id, module_version, slice_key, slice_start)`,
	// At most one active item per module version and slice.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_active_slice
		ON work_items(module_id, module_version, slice_key, slice_start)
		WHERE state IN ('PENDING', 'LEASED')`,

	`CREATE TABLE IF NOT EXISTS results (
		id             TEXT PRIMARY KEY,
		work_item_id   TEXT NOT NULL,
		module_id      TEXT NOT NULL,
		module_version INTEGER NOT NULL,
		slice_key      TEXT NOT NULL DEFAULT '',
		slice_start    INTEGER NOT NULL,
		slice_end      INTEGER NOT NULL,
		input_seq      INTEGER NOT NULL DEFAULT 0,
		produced_by    TEXT NOT NULL,
		produced_at    INTEGER NOT NULL,
		payload        TEXT NOT NULL DEFAULT '[]',
		status         TEXT NOT NULL DEFAULT 'CANDIDATE',
		reason         TEXT NOT NULL DEFAULT '',
		superseded_by  TEXT NOT NULL DEFAULT '',
		validated_at   INTEGER,
		validated_rev  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_status_produced ON results(status, produced_at)`,
	`CREATE INDEX IF NOT EXISTS idx_results_work_item ON results(work_item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_results_validated_slice ON results(status, slice_start, slice_end)`,

	`CREATE TABLE IF NOT EXISTS conflicts (
		id              TEXT PRIMARY KEY,
		kept_id         TEXT NOT NULL,
		rejected_id     TEXT NOT NULL,
		kept_module     TEXT NOT NULL,
		rejected_module TEXT NOT NULL,
		slice_key       TEXT NOT NULL DEFAULT '',
		slice_start     INTEGER NOT NULL,
		slice_end       INTEGER NOT NULL,
		reason          TEXT NOT NULL,
		detected_at     INTEGER NOT NULL,
		acknowledged    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_acknowledged ON conflicts(acknowledged)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "modules",
		column:   "checks",
		alterSQL: "ALTER TABLE modules ADD COLUMN checks TEXT NOT NULL DEFAULT '{}'",
	},
	{
		table:    "work_items",
		column:   "archived_at",
		alterSQL: "ALTER TABLE work_items ADD COLUMN archived_at INTEGER",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_work_items_archived ON work_items(state, archived_at)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
