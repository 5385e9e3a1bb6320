package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JournalFile is the journal database name inside the data directory.
const JournalFile = "journal.db"

// Ingest outcomes recorded in the journal.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// IngestEvent is one ingestion outcome.
type IngestEvent struct {
	TaskID     string    `json:"task_id,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Filename   string    `json:"filename"`
	Partition  string    `json:"partition,omitempty"`
	Status     string    `json:"status"`
	Chunks     int       `json:"chunks"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PartialEntry is a document whose vectors were written but whose keyword
// records were not.
type PartialEntry struct {
	DocumentID string
	Partition  string
	Filename   string
	Chunks     int
	Error      string
	CreatedAt  time.Time
	RepairedAt *time.Time
}

// Journal is a small SQLite database of ingestion outcomes, partial index
// writes awaiting reconciliation, and query telemetry aggregates.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// OpenJournal opens dir/journal.db, or an in-memory database when dir is
// empty.
func OpenJournal(dir string) (*Journal, error) {
	dsn := ":memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		dsn = filepath.Join(dir, JournalFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if dir != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := initJournalSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func initJournalSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingest_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL,
		part TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		chunks INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS partial_index (
		document_id TEXT PRIMARY KEY,
		part TEXT NOT NULL,
		filename TEXT NOT NULL,
		chunks INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		repaired_at TIMESTAMP
	);

	-- Top query terms (with frequency count)
	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Zero-result queries (max 100)
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// RecordIngest appends an ingestion outcome.
func (j *Journal) RecordIngest(ctx context.Context, e IngestEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO ingest_events (task_id, document_id, filename, part, status, chunks, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.TaskID, e.DocumentID, e.Filename, e.Partition, e.Status, e.Chunks, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ingest event: %w", err)
	}
	return nil
}

// RecentIngests returns the newest events first.
func (j *Journal) RecentIngests(ctx context.Context, limit int) ([]IngestEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT task_id, document_id, filename, part, status, chunks, error, created_at
		FROM ingest_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingest events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []IngestEvent
	for rows.Next() {
		var e IngestEvent
		if err := rows.Scan(&e.TaskID, &e.DocumentID, &e.Filename, &e.Partition,
			&e.Status, &e.Chunks, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordPartial journals a document left without keyword records.
func (j *Journal) RecordPartial(ctx context.Context, p PartialEntry) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO partial_index (document_id, part, filename, chunks, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			error = excluded.error,
			repaired_at = NULL
	`, p.DocumentID, p.Partition, p.Filename, p.Chunks, p.Error, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert partial entry: %w", err)
	}
	return nil
}

// PendingPartials returns unrepaired entries, oldest first. An empty
// partition matches every partition.
func (j *Journal) PendingPartials(ctx context.Context, partition string) ([]PartialEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT document_id, part, filename, chunks, error, created_at
		FROM partial_index
		WHERE repaired_at IS NULL AND (? = '' OR part = ?)
		ORDER BY created_at, document_id
	`, partition, partition)
	if err != nil {
		return nil, fmt.Errorf("query partial entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []PartialEntry
	for rows.Next() {
		var p PartialEntry
		if err := rows.Scan(&p.DocumentID, &p.Partition, &p.Filename, &p.Chunks, &p.Error, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

// MarkRepaired stamps a partial entry as reconciled.
func (j *Journal) MarkRepaired(ctx context.Context, documentID string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE partial_index SET repaired_at = ? WHERE document_id = ?`,
		time.Now().UTC(), documentID)
	if err != nil {
		return fmt.Errorf("mark repaired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no partial entry for document %s", documentID)
	}
	return nil
}

// UpsertTermCounts updates term frequency counts.
func (j *Journal) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}
	return tx.Commit()
}

// GetTopTerms retrieves the top N terms by frequency.
func (j *Journal) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := j.db.Query(`
		SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery adds a query to the zero-result buffer, keeping the
// newest 100.
func (j *Journal) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := j.db.Exec(
		`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, query, timestamp); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	_, err := j.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT 100)
	`)
	if err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// GetZeroResultQueries retrieves recent zero-result queries, newest first.
func (j *Journal) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := j.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SaveLatencyCounts upserts daily latency histogram counts.
func (j *Journal) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return fmt.Errorf("insert latency count: %w", err)
		}
	}
	return tx.Commit()
}

// GetLatencyCounts retrieves the latency distribution for a date range.
func (j *Journal) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := j.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
