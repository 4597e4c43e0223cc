package store

import (
	"context"
	"time"

	"github.com/vigil-sh/vigil/pkg/domain"
)

// AddEvent appends one classified event and returns its store-assigned id.
func (s *Store) AddEvent(ctx context.Context, code string, severity domain.Severity, message, entity, detailsJSON string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(ts, code, severity, message, entity, details_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), code, string(severity), message, entity, detailsJSON,
	)
	if err != nil {
		return 0, &StorageError{Op: "add_event", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "add_event", Err: err}
	}
	return id, nil
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, code, severity, message, entity, details_json
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &StorageError{Op: "list_events", Err: err}
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev domain.Event
			ts int64
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Code, (*string)(&ev.Severity), &ev.Message, &ev.Entity, &ev.Details); err != nil {
			return nil, &StorageError{Op: "list_events", Err: err}
		}
		ev.Timestamp = time.Unix(ts, 0)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_events", Err: err}
	}
	return out, nil
}

// ClearEvents wipes the events table. Debug/reset only.
func (s *Store) ClearEvents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return &StorageError{Op: "clear_events", Err: err}
	}
	return nil
}
