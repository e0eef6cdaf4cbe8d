package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/deusflow/newsdigest/internal/news"
)

// SQLiteStore keeps one row per cache key.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	maxAge time.Duration
	logger *slog.Logger
}

func NewSQLiteStore(path string, maxAge time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &news.CacheError{Op: "init", Path: path, Err: err}
	}

	store := &SQLiteStore{
		path:   path,
		maxAge: maxAge,
		logger: logger.With("component", "sqlite_store"),
	}
	err := store.open()
	if err != nil && isCorrupt(err) {
		store.quarantine(&news.CacheError{Op: "init", Path: path, Err: err})
		err = store.open()
	}
	if err != nil {
		return nil, &news.CacheError{Op: "init", Path: path, Err: err}
	}
	return store, nil
}

func (s *SQLiteStore) open() error {
	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	s.db = db
	if err := s.initSchema(); err != nil {
		db.Close()
		s.db = nil
		return err
	}
	return nil
}

// quarantine moves an unusable database file aside, with its WAL sidecars,
// so a fresh one can be created in its place.
func (s *SQLiteStore) quarantine(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		s.logger.Warn("cache database unreadable and could not be moved aside", "error", cause, "rename_error", err)
		return
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.path + suffix)
	}
	s.logger.Warn("cache database unreadable, moved aside and starting empty", "error", cause, "moved_to", aside)
}

// isCorrupt reports whether err means the file is not a usable SQLite database.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

// initSchema creates the entries table if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		url        TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL DEFAULT '',
		summary    TEXT NOT NULL DEFAULT '',
		fallback   INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		fetched_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_updated_at ON cache_entries(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load returns all rows newer than maxAge. A query failure means the file is
// unusable, which is logged and treated as an empty cache.
func (s *SQLiteStore) Load(ctx context.Context) ([]news.CacheEntry, error) {
	query := `SELECT key, url, title, source, body, summary, fallback, status, reason, fetched_at, updated_at
		FROM cache_entries WHERE updated_at >= ?`
	var cutoff int64
	if s.maxAge > 0 {
		cutoff = time.Now().Add(-s.maxAge).UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		s.logger.Warn("cache database unreadable, starting empty", "error", &news.CacheError{Op: "read", Path: s.path, Err: err})
		return nil, nil
	}
	defer rows.Close()

	var out []news.CacheEntry
	for rows.Next() {
		var (
			e                news.CacheEntry
			fallback         int
			status           string
			fetched, updated int64
		)
		if err := rows.Scan(&e.Key, &e.URL, &e.Title, &e.Source, &e.Body, &e.Summary, &fallback, &status, &e.Reason, &fetched, &updated); err != nil {
			s.logger.Warn("skipping unreadable cache row", "error", err)
			continue
		}
		e.Fallback = fallback != 0
		e.Status = news.EntryStatus(status)
		e.FetchedAt = time.Unix(0, fetched)
		e.UpdatedAt = time.Unix(0, updated)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("cache database read interrupted", "error", err, "loaded", len(out))
	}
	return out, nil
}

// Put upserts one entry.
func (s *SQLiteStore) Put(ctx context.Context, e news.CacheEntry) error {
	fallback := 0
	if e.Fallback {
		fallback = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, url, title, source, body, summary, fallback, status, reason, fetched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			source = excluded.source,
			body = excluded.body,
			summary = excluded.summary,
			fallback = excluded.fallback,
			status = excluded.status,
			reason = excluded.reason,
			fetched_at = excluded.fetched_at,
			updated_at = excluded.updated_at`,
		e.Key, e.URL, e.Title, e.Source, e.Body, e.Summary, fallback, string(e.Status), e.Reason,
		e.FetchedAt.UnixNano(), e.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return &news.CacheError{Op: "put", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
