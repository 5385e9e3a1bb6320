package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements KeywordStore on SQLite FTS5. All partitions share
// one database; a side table carries the filter columns and payloads.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var (
	_ KeywordStore = (*SQLiteStore)(nil)
	_ Refresher    = (*SQLiteStore)(nil)
)

// validateSQLiteIntegrity checks an existing database before opening it.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the keyword database in dir. An empty
// dir creates an in-memory database.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	dsn := ":memory:"
	var path string
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		path = filepath.Join(dir, "keyword.db")
		if err := validateSQLiteIntegrity(path); err != nil {
			// A damaged keyword database cannot be repaired from the
			// vector store, so refuse to start rather than clear it.
			return nil, fmt.Errorf("keyword database %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention; also keeps one shared
	// in-memory database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS partitions (
		name TEXT PRIMARY KEY
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		record_id UNINDEXED,
		part UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS records (
		part      TEXT NOT NULL,
		record_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		space     TEXT NOT NULL,
		filename  TEXT NOT NULL,
		roles     TEXT NOT NULL,
		tags      TEXT NOT NULL,
		payload   TEXT NOT NULL,
		PRIMARY KEY (part, record_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_filename ON records(part, filename);
	`)
	return err
}

func (s *SQLiteStore) check(ctx context.Context, name string) error {
	if s.closed {
		return ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM partitions WHERE name = ?`, name).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return notFound(name)
	}
	return nil
}

// EnsurePartition registers name. Idempotent.
func (s *SQLiteStore) EnsurePartition(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO partitions(name) VALUES (?)`, name)
	return err
}

// Upsert writes records in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 virtual tables don't support REPLACE, so delete first
	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE part = ? AND record_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer func() { _ = deleteStmt.Close() }()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(record_id, part, content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	recordStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records
		(part, record_id, tenant_id, space, filename, roles, tags, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record statement: %w", err)
	}
	defer func() { _ = recordStmt.Close() }()

	for _, r := range records {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("encode payload %s: %w", r.ID, err)
		}
		roles, _ := json.Marshal(nonNil(r.Payload.Roles))
		tags, _ := json.Marshal(nonNil(r.Payload.Tags))

		if _, err := deleteStmt.ExecContext(ctx, name, r.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", r.ID, err)
		}
		content := strings.Join(Terms(r.Payload.Text), " ")
		if _, err := insertStmt.ExecContext(ctx, r.ID, name, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", r.ID, err)
		}
		if _, err := recordStmt.ExecContext(ctx, name, r.ID, r.Payload.TenantID, r.Payload.Space,
			r.Payload.Filename, string(roles), string(tags), string(payload)); err != nil {
			return fmt.Errorf("failed to store record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// filterSQL renders f as AND-ed conditions on the records alias r.
func filterSQL(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.TenantID != "" {
		conds = append(conds, "r.tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Space != "" {
		conds = append(conds, "r.space = ?")
		args = append(args, f.Space)
	}
	if f.Filename != "" {
		conds = append(conds, "r.filename = ?")
		args = append(args, f.Filename)
	}
	anyOf := func(column string, values []string) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(r.%s) WHERE json_each.value IN (%s))", column, placeholders))
		for _, v := range values {
			args = append(args, v)
		}
	}
	if len(f.Roles) > 0 {
		anyOf("roles", f.Roles)
	}
	if len(f.Tags) > 0 {
		anyOf("tags", f.Tags)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// matchExpression quotes each term and ORs them, so any term matches.
func matchExpression(q string) string {
	terms := Terms(q)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Search ranks matches with FTS5 bm25(), negated so higher is better.
func (s *SQLiteStore) Search(ctx context.Context, name string, q string, filter Filter, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, name); err != nil {
		return nil, err
	}

	expr := matchExpression(q)
	if expr == "" || limit <= 0 {
		return []Hit{}, nil
	}

	where, fargs := filterSQL(filter)
	stmt := `
		SELECT r.record_id, r.payload, bm25(fts_content) AS score
		FROM fts_content
		JOIN records r ON r.part = fts_content.part AND r.record_id = fts_content.record_id
		WHERE fts_content MATCH ? AND fts_content.part = ?` + where + `
		ORDER BY score
		LIMIT ?`
	args := append([]any{expr, name}, fargs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var id, raw string
		var score float64
		if err := rows.Scan(&id, &raw, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var payload Payload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", id, err)
		}
		hits = append(hits, Hit{ID: id, Score: -score, Payload: payload})
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, rows.Err()
}

// Count returns the number of records matching filter.
func (s *SQLiteStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, name); err != nil {
		return 0, err
	}

	where, args := filterSQL(filter)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records r WHERE r.part = ?`+where,
		append([]any{name}, args...)...).Scan(&n)
	return n, err
}

// Exists reports whether name has been provisioned.
func (s *SQLiteStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM partitions WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

// IDs returns every record id in name, sorted.
func (s *SQLiteStore) IDs(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT record_id FROM records WHERE part = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

// Refresh checkpoints the WAL so the main database file holds every
// committed write.
func (s *SQLiteStore) Refresh(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, name); err != nil {
		return err
	}
	if s.path == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close checkpoints and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Warn("keyword_checkpoint_failed", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}
