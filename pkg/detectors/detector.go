// Package detectors contains the stateful classifiers that turn raw host
// signals into severity-tagged findings. Each detector instance is owned by
// exactly one monitor worker; none of them are safe for concurrent use.
package detectors

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/store"
)

// LineDetector consumes auth-log lines and returns at most one finding per
// line. Malformed lines are skipped silently (nil).
type LineDetector interface {
	Code() string
	HandleLine(ctx context.Context, line string, now time.Time) *domain.Finding
}

// PollDetector samples host state on its own interval. A poll returns zero
// or more findings; sampler failures degrade to "no sample this cycle".
type PollDetector interface {
	Code() string
	Interval() time.Duration
	Poll(ctx context.Context, now time.Time) []domain.Finding
}

// Ledger is the durable first-seen surface detectors dedup against.
type Ledger interface {
	FirstSeenTouch(ctx context.Context, key string) (bool, error)
	PruneFirstSeen(ctx context.Context, prefix string, olderThan time.Time) (int64, error)
}

// FlagReader exposes runtime flags (maintenance, mute) to detectors.
type FlagReader interface {
	GetFlag(ctx context.Context, key string) (*store.Flag, error)
}

// EventReader exposes the recent event feed, used for cross-detector
// correlation.
type EventReader interface {
	ListEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

// BaseDetector tracks per-detector statistics with atomics so the
// orchestrator can read them from other goroutines.
type BaseDetector struct {
	code string

	linesProcessed atomic.Int64
	pollsRun       atomic.Int64
	emitted        atomic.Int64
	errorCount     atomic.Int64
	lastError      atomic.Value // error
}

// NewBaseDetector creates the stats base for a detector code.
func NewBaseDetector(code string) *BaseDetector {
	return &BaseDetector{code: code}
}

// Code returns the detector identifier (e.g. SEC-01).
func (b *BaseDetector) Code() string { return b.code }

// RecordLine counts one processed input line.
func (b *BaseDetector) RecordLine() { b.linesProcessed.Add(1) }

// RecordPoll counts one completed poll cycle.
func (b *BaseDetector) RecordPoll() { b.pollsRun.Add(1) }

// RecordEmit counts one emitted finding.
func (b *BaseDetector) RecordEmit() { b.emitted.Add(1) }

// RecordError counts a degraded cycle (sampler failure, store failure).
func (b *BaseDetector) RecordError(err error) {
	b.errorCount.Add(1)
	if err != nil {
		b.lastError.Store(err)
	}
}

// Stats is a point-in-time view of detector activity.
type Stats struct {
	Code           string
	LinesProcessed int64
	PollsRun       int64
	Emitted        int64
	ErrorCount     int64
	LastError      error
}

// Statistics returns the current counters.
func (b *BaseDetector) Statistics() Stats {
	s := Stats{
		Code:           b.code,
		LinesProcessed: b.linesProcessed.Load(),
		PollsRun:       b.pollsRun.Load(),
		Emitted:        b.emitted.Load(),
		ErrorCount:     b.errorCount.Load(),
	}
	if e, ok := b.lastError.Load().(error); ok {
		s.LastError = e
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func shortFingerprint(fp string) string {
	return truncate(fp, 21)
}
