package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vigil-sh/vigil/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vigil.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AddEvent(ctx, domain.CodeSSHBruteForce, domain.SeverityWarning, "first", "203.0.113.5", "")
	require.NoError(t, err)
	id2, err := s.AddEvent(ctx, domain.CodeDiskUsage, domain.SeverityCritical, "second", "/", `{"used_pct":96}`)
	require.NoError(t, err)
	assert.Greater(t, id2, id1, "event ids must be strictly increasing")

	events, err := s.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, id2, events[0].ID)
	assert.Equal(t, domain.CodeDiskUsage, events[0].Code)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
	assert.Equal(t, "/", events[0].Entity)
	assert.Equal(t, id1, events[1].ID)
}

func TestListEventsBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AddEvent(ctx, domain.CodeSudoActivity, domain.SeverityInfo, "msg", "user", "")
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestClearEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddEvent(ctx, domain.CodeMemoryPressure, domain.SeverityWarning, "msg", "memory", "")
	require.NoError(t, err)
	require.NoError(t, s.ClearEvents(ctx))

	events, err := s.ListEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFlagLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Absent flag.
	f, err := s.GetFlag(ctx, FlagMute)
	require.NoError(t, err)
	assert.Nil(t, f)

	// Set without expiry.
	require.NoError(t, s.SetFlag(ctx, FlagMute, "1", 0))
	f, err = s.GetFlag(ctx, FlagMute)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "1", f.Value)
	assert.Nil(t, f.ExpiresAt)

	left, err := s.RemainingSeconds(ctx, FlagMute)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), left)

	// Upsert with TTL.
	require.NoError(t, s.SetFlag(ctx, FlagMute, "1", time.Hour))
	left, err = s.RemainingSeconds(ctx, FlagMute)
	require.NoError(t, err)
	assert.Greater(t, left, int64(3500))

	require.NoError(t, s.ClearFlag(ctx, FlagMute))
	f, err = s.GetFlag(ctx, FlagMute)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestExpiredFlagIsDeletedOnRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Expired in the past: write an already-elapsed expiry directly.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_flags(key, value, expires_at) VALUES (?, ?, ?)`,
		FlagMaintenance, "1", time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)

	f, err := s.GetFlag(ctx, FlagMaintenance)
	require.NoError(t, err)
	assert.Nil(t, f, "expired flag reads as absent")

	// Row must be gone, not just filtered.
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM runtime_flags WHERE key = ?`, FlagMaintenance).Scan(&n))
	assert.Zero(t, n)
}

func TestFirstSeenTouchIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	isNew, err := s.FirstSeenTouch(ctx, "sec04|nginx|443|tcp|GLOBAL")
	require.NoError(t, err)
	assert.True(t, isNew)

	for i := 0; i < 3; i++ {
		isNew, err = s.FirstSeenTouch(ctx, "sec04|nginx|443|tcp|GLOBAL")
		require.NoError(t, err)
		assert.False(t, isNew)
	}

	recs, err := s.ListFirstSeen(ctx, "sec04|", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(4), recs[0].Count)
}

func TestFirstSeenPrefixScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FirstSeenTouch(ctx, "sec03|root|root|visudo")
	require.NoError(t, err)
	_, err = s.FirstSeenTouch(ctx, "sec04|sshd|22|tcp|GLOBAL")
	require.NoError(t, err)

	recs, err := s.ListFirstSeen(ctx, "sec03|", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sec03|root|root|visudo", recs[0].Key)
}

func TestPruneFirstSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FirstSeenTouch(ctx, "sec04|old|1|tcp|LAN")
	require.NoError(t, err)
	// Backdate last_ts to simulate an aged-out record.
	_, err = s.db.ExecContext(ctx,
		`UPDATE first_seen SET last_ts = ?, first_ts = ? WHERE key = ?`,
		time.Now().Add(-8*24*time.Hour).Unix(), time.Now().Add(-8*24*time.Hour).Unix(),
		"sec04|old|1|tcp|LAN")
	require.NoError(t, err)

	_, err = s.FirstSeenTouch(ctx, "sec04|new|2|tcp|LAN")
	require.NoError(t, err)

	pruned, err := s.PruneFirstSeen(ctx, "sec04|", time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// Aged-out key re-registers as new (soft memory).
	isNew, err := s.FirstSeenTouch(ctx, "sec04|old|1|tcp|LAN")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 20

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.AddEvent(ctx, domain.CodeSSHBruteForce, domain.SeverityInfo, "concurrent", "10.0.0.1", "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events, err := s.ListEvents(ctx, workers*perWorker+1)
	require.NoError(t, err)
	require.Len(t, events, workers*perWorker)

	// IDs unique and strictly decreasing in newest-first order.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i-1].ID, events[i].ID)
	}
}
