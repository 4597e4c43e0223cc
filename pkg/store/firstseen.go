package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vigil-sh/vigil/pkg/domain"
)

// FirstSeenTouch records key in the dedup ledger. It returns true exactly
// when the key was not present (first occurrence); repeats bump last_ts and
// count instead.
func (s *Store) FirstSeenTouch(ctx context.Context, key string) (bool, error) {
	now := time.Now().Unix()

	row := s.db.QueryRowContext(ctx, `SELECT key FROM first_seen WHERE key = ?`, key)
	var existing string
	err := row.Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO first_seen(key, first_ts, last_ts, count) VALUES (?, ?, ?, 1)`,
			key, now, now); err != nil {
			return false, &StorageError{Op: "first_seen_touch", Err: err}
		}
		return true, nil
	case err != nil:
		return false, &StorageError{Op: "first_seen_touch", Err: err}
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE first_seen SET last_ts = ?, count = count + 1 WHERE key = ?`,
		now, key); err != nil {
		return false, &StorageError{Op: "first_seen_touch", Err: err}
	}
	return false, nil
}

// ListFirstSeen returns ledger records under prefix first seen at or after
// since, newest first.
func (s *Store) ListFirstSeen(ctx context.Context, prefix string, since time.Time, limit int) ([]domain.FirstSeenRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, first_ts, last_ts, count FROM first_seen
		 WHERE key LIKE ? AND first_ts >= ?
		 ORDER BY first_ts DESC LIMIT ?`,
		prefix+"%", since.Unix(), limit)
	if err != nil {
		return nil, &StorageError{Op: "list_first_seen", Err: err}
	}
	defer rows.Close()

	var out []domain.FirstSeenRecord
	for rows.Next() {
		var (
			rec              domain.FirstSeenRecord
			firstTS, lastTS int64
		)
		if err := rows.Scan(&rec.Key, &firstTS, &lastTS, &rec.Count); err != nil {
			return nil, &StorageError{Op: "list_first_seen", Err: err}
		}
		rec.FirstTS = time.Unix(firstTS, 0)
		rec.LastTS = time.Unix(lastTS, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_first_seen", Err: err}
	}
	return out, nil
}

// PruneFirstSeen deletes ledger records under prefix last seen before the
// cutoff, bounding "new since N days" without unbounded growth.
func (s *Store) PruneFirstSeen(ctx context.Context, prefix string, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM first_seen WHERE key LIKE ? AND last_ts < ?`,
		prefix+"%", olderThan.Unix())
	if err != nil {
		return 0, &StorageError{Op: "prune_first_seen", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "prune_first_seen", Err: err}
	}
	return n, nil
}
