package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Well-known runtime flag keys.
const (
	FlagMonitorState = "monitor_state"
	FlagMute         = "mute"
	FlagMaintenance  = "maintenance"
)

// Flag is a runtime key/value with optional absolute expiry.
type Flag struct {
	Key       string
	Value     string
	ExpiresAt *time.Time
}

// SetFlag upserts a flag. A zero ttl means the flag never expires.
func (s *Store) SetFlag(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_flags(key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return &StorageError{Op: "set_flag", Err: err}
	}
	return nil
}

// GetFlag returns the flag, or nil if absent. Expiry is enforced lazily: a
// read past expires_at deletes the row and reports the flag as absent.
func (s *Store) GetFlag(ctx context.Context, key string) (*Flag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM runtime_flags WHERE key = ?`, key)

	var (
		value     string
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get_flag", Err: err}
	}

	f := &Flag{Key: key, Value: value}
	if expiresAt.Valid {
		exp := time.Unix(expiresAt.Int64, 0)
		if !exp.After(time.Now()) {
			if err := s.ClearFlag(ctx, key); err != nil {
				return nil, err
			}
			return nil, nil
		}
		f.ExpiresAt = &exp
	}
	return f, nil
}

// ClearFlag deletes a flag if present.
func (s *Store) ClearFlag(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runtime_flags WHERE key = ?`, key); err != nil {
		return &StorageError{Op: "clear_flag", Err: err}
	}
	return nil
}

// RemainingSeconds returns the seconds left before a flag expires. It
// returns -1 when the flag is absent or has no expiry.
func (s *Store) RemainingSeconds(ctx context.Context, key string) (int64, error) {
	f, err := s.GetFlag(ctx, key)
	if err != nil {
		return -1, err
	}
	if f == nil || f.ExpiresAt == nil {
		return -1, nil
	}
	left := int64(time.Until(*f.ExpiresAt).Seconds())
	if left < 0 {
		left = 0
	}
	return left, nil
}
