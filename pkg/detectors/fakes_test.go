package detectors

import (
	"context"
	"time"

	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeLedger is an in-memory stand-in for the store's first-seen table.
type fakeLedger struct {
	keys   map[string]time.Time
	err    error
	pruned int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{keys: make(map[string]time.Time)}
}

func (l *fakeLedger) FirstSeenTouch(_ context.Context, key string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = time.Now()
	return true, nil
}

func (l *fakeLedger) PruneFirstSeen(_ context.Context, prefix string, _ time.Time) (int64, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.pruned++
	return 0, nil
}

// fakeFlags serves runtime flags from a map.
type fakeFlags struct {
	flags map[string]*store.Flag
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{flags: make(map[string]*store.Flag)}
}

func (f *fakeFlags) GetFlag(_ context.Context, key string) (*store.Flag, error) {
	return f.flags[key], nil
}

func (f *fakeFlags) set(key string) {
	f.flags[key] = &store.Flag{Key: key, Value: "1"}
}

// fakeEvents serves a canned recent-events feed.
type fakeEvents struct {
	events []domain.Event
}

func (f *fakeEvents) ListEvents(_ context.Context, limit int) ([]domain.Event, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}
