package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/obscore/pkg/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
//
// Pragmas are passed in the DSN so that every pooled connection gets them.
// Transactions begin IMMEDIATE so their first read already holds the write
// lock.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return classify(migrate(ctx, s.db))
}

// --- Input records ---

// AppendInput stores rec and fills in its Seq and IngestedAt. Appending an
// existing ID is a no-op; the returned bool reports whether a row was added.
func (s *SQLiteStore) AppendInput(ctx context.Context, rec *model.InputRecord) (bool, error) {
	s.logger.Debug("sql", "op", "insert", "table", "inputs", "id", rec.ID)

	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inputs (id, kind, key, start_ns, end_ns, payload_ref, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Kind, rec.Key, toNS(rec.Start), toNS(rec.End), rec.PayloadRef, toNS(rec.IngestedAt),
	)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()

	stored, err := s.GetInput(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, fmt.Errorf("input %s vanished after insert", rec.ID)
	}
	*rec = *stored
	return n > 0, nil
}

const inputColumns = `seq, id, kind, key, start_ns, end_ns, payload_ref, ingested_at`

func (s *SQLiteStore) GetInput(ctx context.Context, id string) (*model.InputRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "inputs", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+inputColumns+` FROM inputs WHERE id = ?`, id)
	rec, err := scanInput(row)
	return rec, classify(err)
}

func (s *SQLiteStore) ListInputs(ctx context.Context, opts model.ListOptions) ([]*model.InputRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "inputs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where := ""
	var args []any
	if opts.Kind != "" {
		where = " WHERE kind = ?"
		args = append(args, opts.Kind)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inputs`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inputColumns+` FROM inputs`+where+` ORDER BY seq DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	var recs []*model.InputRecord
	for rows.Next() {
		rec, err := scanInput(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, classify(rows.Err())
}

func (s *SQLiteStore) ScanInputs(ctx context.Context, kinds []string, fn func(*model.InputRecord) error) error {
	s.logger.Debug("sql", "op", "scan", "table", "inputs", "kinds", kinds)
	if len(kinds) == 0 {
		return nil
	}

	args := make([]any, len(kinds))
	for i, k := range kinds {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inputColumns+` FROM inputs WHERE kind IN (`+placeholders(len(kinds))+`) ORDER BY seq`, args...)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanInput(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return classify(rows.Err())
}

// --- Module registry ---

// RegisterModule inserts or replaces a module descriptor. Re-registering the
// same version is allowed only when the slice shape is unchanged; an older
// version is rejected.
func (s *SQLiteStore) RegisterModule(ctx context.Context, m *model.ModuleDescriptor) error {
	s.logger.Debug("sql", "op", "upsert", "table", "modules", "id", m.ID, "version", m.Version)

	inputKinds, err := json.Marshal(m.InputKinds)
	if err != nil {
		return fmt.Errorf("marshal input kinds: %w", err)
	}
	outputKinds, err := json.Marshal(m.OutputKinds)
	if err != nil {
		return fmt.Errorf("marshal output kinds: %w", err)
	}
	command, err := json.Marshal(m.Command)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	checks := m.Checks
	if checks == nil {
		checks = map[string]string{}
	}
	checksJSON, err := json.Marshal(checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (id, version, input_kinds, output_kinds, granularity, partition_by_key,
		   enabled, command, checks, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   version = excluded.version,
		   input_kinds = excluded.input_kinds,
		   output_kinds = excluded.output_kinds,
		   granularity = excluded.granularity,
		   partition_by_key = excluded.partition_by_key,
		   enabled = excluded.enabled,
		   command = excluded.command,
		   checks = excluded.checks,
		   max_attempts = excluded.max_attempts,
		   updated_at = excluded.updated_at
		 WHERE excluded.version > modules.version
		    OR (excluded.version = modules.version
		        AND excluded.granularity = modules.granularity
		        AND excluded.partition_by_key = modules.partition_by_key)`,
		m.ID, m.Version, string(inputKinds), string(outputKinds), string(m.Granularity),
		boolToInt(m.PartitionByKey), boolToInt(m.Enabled), string(command), string(checksJSON),
		m.MaxAttempts, toNS(m.CreatedAt), toNS(m.UpdatedAt),
	)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	existing, err := s.GetModule(ctx, m.ID)
	if err != nil {
		return err
	}
	if existing != nil && m.Version < existing.Version {
		return model.NewValidationError("module version is older than the registered one",
			model.FieldError{Field: "version", Message: fmt.Sprintf("registered version is %d", existing.Version)})
	}
	if existing != nil && !existing.SameShape(m) {
		return model.NewValidationError("changing the slice shape requires a version bump",
			model.FieldError{Field: "granularity", Message: "granularity and partition_by_key are fixed per version"})
	}
	return fmt.Errorf("register module %s: %w", m.ID, model.ErrStoreUnavailable)
}

const moduleColumns = `id, version, input_kinds, output_kinds, granularity, partition_by_key,
	enabled, command, checks, max_attempts, created_at, updated_at`

func (s *SQLiteStore) GetModule(ctx context.Context, id string) (*model.ModuleDescriptor, error) {
	s.logger.Debug("sql", "op", "select", "table", "modules", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id)
	m, err := scanModule(row)
	return m, classify(err)
}

func (s *SQLiteStore) ListModules(ctx context.Context) ([]*model.ModuleDescriptor, error) {
	s.logger.Debug("sql", "op", "list", "table", "modules")
	rows, err := s.db.QueryContext(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var modules []*model.ModuleDescriptor
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, classify(rows.Err())
}

// SetModuleEnabled toggles a module. The returned bool is false if the
// module does not exist.
func (s *SQLiteStore) SetModuleEnabled(ctx context.Context, id string, enabled bool, now time.Time) (bool, error) {
	s.logger.Debug("sql", "op", "update", "table", "modules", "id", id, "enabled", enabled)
	res, err := s.db.ExecContext(ctx,
		`UPDATE modules SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), toNS(now), id)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanInput(row scanner) (*model.InputRecord, error) {
	var rec model.InputRecord
	var start, end, ingested int64
	err := row.Scan(&rec.Seq, &rec.ID, &rec.Kind, &rec.Key, &start, &end, &rec.PayloadRef, &ingested)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Start = fromNS(start)
	rec.End = fromNS(end)
	rec.IngestedAt = fromNS(ingested)
	return &rec, nil
}

func scanModule(row scanner) (*model.ModuleDescriptor, error) {
	var m model.ModuleDescriptor
	var inputKinds, outputKinds, command, checks, granularity string
	var partition, enabled int
	var createdAt, updatedAt int64

	err := row.Scan(&m.ID, &m.Version, &inputKinds, &outputKinds, &granularity, &partition,
		&enabled, &command, &checks, &m.MaxAttempts, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(inputKinds), &m.InputKinds); err != nil {
		return nil, fmt.Errorf("unmarshal input kinds: %w", err)
	}
	if err := json.Unmarshal([]byte(outputKinds), &m.OutputKinds); err != nil {
		return nil, fmt.Errorf("unmarshal output kinds: %w", err)
	}
	if err := json.Unmarshal([]byte(command), &m.Command); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	if err := json.Unmarshal([]byte(checks), &m.Checks); err != nil {
		return nil, fmt.Errorf("unmarshal checks: %w", err)
	}
	if len(m.Checks) == 0 {
		m.Checks = nil
	}
	m.Granularity = model.Granularity(granularity)
	m.PartitionByKey = partition != 0
	m.Enabled = enabled != 0
	m.CreatedAt = fromNS(createdAt)
	m.UpdatedAt = fromNS(updatedAt)
	return &m, nil
}

// --- value helpers ---

func toNS(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNS(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func nullableNS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNS(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNS(v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// classify wraps SQLITE_BUSY and SQLITE_LOCKED failures with
// model.ErrStoreUnavailable so callers can retry them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
	}
	return err
}
