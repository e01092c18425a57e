// Package history keeps the administrative record of ingested documents and
// answered questions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
)

const DefaultRecentLimit = 20

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements document and query records backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database at dbPath and initialises the
// documents and queries tables.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "creating history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "migrating history tables: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	path        TEXT NOT NULL DEFAULT '',
	file_type   TEXT NOT NULL,
	file_size   INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	summary     TEXT NOT NULL DEFAULT '',
	uploaded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(uploaded_at);

CREATE TABLE IF NOT EXISTS queries (
	id               TEXT PRIMARY KEY,
	question         TEXT NOT NULL,
	answer           TEXT NOT NULL,
	sources          TEXT NOT NULL DEFAULT '[]',
	response_time    REAL NOT NULL DEFAULT 0,
	context_used     TEXT NOT NULL DEFAULT '',
	chunks_retrieved INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDocument inserts or replaces a document record. A missing ID or
// upload time is filled in on rec.
func (s *Store) RecordDocument(ctx context.Context, rec *domain.DocumentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = s.now().UTC()
	}

	const q = `INSERT OR REPLACE INTO documents (id, title, path, file_type, file_size, chunk_count, processed, summary, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.Title,
		rec.Path,
		rec.FileType,
		rec.FileSize,
		rec.ChunkCount,
		rec.Processed,
		rec.Summary,
		formatTime(rec.UploadedAt),
	)
	if err != nil {
		return ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "recording document %s: %w", rec.ID, err)
	}
	return nil
}

// ListDocuments returns every document, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.DocumentRecord, error) {
	const q = `SELECT id, title, path, file_type, file_size, chunk_count, processed, summary, uploaded_at
FROM documents ORDER BY uploaded_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "listing documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.DocumentRecord{}
	for rows.Next() {
		var (
			d          domain.DocumentRecord
			uploadedAt string
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Path, &d.FileType, &d.FileSize, &d.ChunkCount, &d.Processed, &d.Summary, &uploadedAt); err != nil {
			return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "scanning document: %w", err)
		}
		d.UploadedAt = parseTime(uploadedAt)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "listing documents: %w", err)
	}
	return docs, nil
}

// RecordQuery logs an answered question. A missing ID or timestamp is filled
// in on rec.
func (s *Store) RecordQuery(ctx context.Context, rec *domain.QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "marshalling sources: %w", err)
	}

	const q = `INSERT INTO queries (id, question, answer, sources, response_time, context_used, chunks_retrieved, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		rec.ID,
		rec.Question,
		rec.Answer,
		string(encoded),
		rec.ResponseTime,
		rec.ContextUsed,
		rec.ChunksRetrieved,
		rec.Error,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "recording query %s: %w", rec.ID, err)
	}
	return nil
}

// RecentQueries returns up to limit queries, newest first. A non-positive
// limit selects DefaultRecentLimit.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	const q = `SELECT id, question, answer, sources, response_time, context_used, chunks_retrieved, error, created_at
FROM queries ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "listing queries: %w", err)
	}
	defer rows.Close()

	out := []domain.QueryRecord{}
	for rows.Next() {
		var (
			r                  domain.QueryRecord
			sources, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &sources, &r.ResponseTime, &r.ContextUsed, &r.ChunksRetrieved, &r.Error, &createdAt); err != nil {
			return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "scanning query: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
			return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "decoding sources of query %s: %w", r.ID, err)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "listing queries: %w", err)
	}
	return out, nil
}

// Counts returns the number of recorded documents and queries.
func (s *Store) Counts(ctx context.Context) (documents, queries int, err error) {
	const q = `SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM queries)`
	if err := s.db.QueryRowContext(ctx, q).Scan(&documents, &queries); err != nil {
		return 0, 0, ragerr.Errorf(ragerr.CodeHistoryDatabaseFailure, "counting records: %w", err)
	}
	return documents, queries, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
