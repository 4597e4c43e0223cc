// Package store is the durable state layer: classified events, expiring
// runtime flags, and the first-seen dedup ledger, all in one SQLite file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store owns the three tables exclusively. It is safe for concurrent use
// from multiple workers; writes are serialized on a single connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// WAL mode is enabled for concurrent readers.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: fmt.Errorf("create database directory %s: %w", dir, err)}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	// One writer connection; sqlite serializes everything behind it so
	// callers never need external locking.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("Store opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			code TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			entity TEXT NOT NULL DEFAULT '',
			details_json TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE TABLE IF NOT EXISTS runtime_flags (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS first_seen (
			key TEXT PRIMARY KEY,
			first_ts INTEGER NOT NULL,
			last_ts INTEGER NOT NULL,
			count INTEGER NOT NULL DEFAULT 1
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return &StorageError{Op: "migrate", Err: err}
		}
	}
	return nil
}
