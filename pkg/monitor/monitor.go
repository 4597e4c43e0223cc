// Package monitor runs the detection loop: one worker per poll detector,
// plus a tail loop feeding the line detectors, all writing classified
// events to the store and raising desktop notifications for criticals.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/detectors"
	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/notify"
	"github.com/vigil-sh/vigil/pkg/store"
)

// Monitor-state flag values.
const (
	StateRunning = "RUNNING"
	StateStopped = "STOPPED"
)

// EventStore is the slice of the store the monitor needs.
type EventStore interface {
	AddEvent(ctx context.Context, code string, severity domain.Severity, message, entity, detailsJSON string) (int64, error)
	SetFlag(ctx context.Context, key, value string, ttl time.Duration) error
	GetFlag(ctx context.Context, key string) (*store.Flag, error)
}

// Notifier raises desktop notifications, best effort.
type Notifier interface {
	Notify(ctx context.Context, title, body, key string) bool
}

// LineSource feeds raw log lines until the context is cancelled. A returned
// error is fatal for the whole monitor.
type LineSource interface {
	Run(ctx context.Context, out chan<- string) error
}

// Config tunes the monitor loop itself; detector tuning lives with each
// detector.
type Config struct {
	// JoinTimeout bounds the wait for workers on shutdown.
	JoinTimeout   time.Duration
	NotifyEnabled bool
	LineBuffer    int
	Logger        *zap.Logger
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() *Config {
	return &Config{
		JoinTimeout:   2 * time.Second,
		NotifyEnabled: true,
		LineBuffer:    256,
	}
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.JoinTimeout == 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.LineBuffer == 0 {
		c.LineBuffer = d.LineBuffer
	}
}

// Monitor owns the detector workers. Create with New, then Run blocks until
// the context is cancelled or the line source fails fatally.
type Monitor struct {
	cfg    *Config
	logger *zap.Logger

	store    EventStore
	notifier Notifier
	source   LineSource

	lineDetectors []detectors.LineDetector
	pollers       []detectors.PollDetector

	eventsStored   metric.Int64Counter
	detectorErrors metric.Int64Counter
	notifications  metric.Int64Counter

	started bool
}

// New builds a monitor over the given store, notifier, line source and
// detector sets. The notifier may be nil when notifications are disabled.
func New(cfg *Config, st EventStore, notifier Notifier, source LineSource,
	lineDetectors []detectors.LineDetector, pollers []detectors.PollDetector) (*Monitor, error) {

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.SetDefaults()
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if source == nil {
		return nil, fmt.Errorf("line source is required")
	}
	if cfg.NotifyEnabled && notifier == nil {
		return nil, fmt.Errorf("notifier is required when notifications are enabled")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		cfg:           cfg,
		logger:        logger.Named("monitor"),
		store:         st,
		notifier:      notifier,
		source:        source,
		lineDetectors: lineDetectors,
		pollers:       pollers,
	}

	meter := otel.Meter("vigil-monitor")
	var err error
	m.eventsStored, err = meter.Int64Counter(
		"vigil_events_stored_total",
		metric.WithDescription("Total classified events written to the store"),
	)
	if err != nil {
		m.logger.Warn("Failed to create events counter", zap.Error(err))
	}
	m.detectorErrors, err = meter.Int64Counter(
		"vigil_detector_errors_total",
		metric.WithDescription("Total per-iteration detector failures"),
	)
	if err != nil {
		m.logger.Warn("Failed to create errors counter", zap.Error(err))
	}
	m.notifications, err = meter.Int64Counter(
		"vigil_notifications_sent_total",
		metric.WithDescription("Total desktop notifications delivered"),
	)
	if err != nil {
		m.logger.Warn("Failed to create notifications counter", zap.Error(err))
	}

	return m, nil
}

// Run executes the monitor until ctx is cancelled. It returns nil on a
// clean stop; only a fatal line-source failure produces an error, after a
// graceful shutdown of the poll workers.
func (m *Monitor) Run(ctx context.Context) error {
	if m.started {
		return fmt.Errorf("monitor already started")
	}
	m.started = true

	if err := m.store.SetFlag(ctx, store.FlagMonitorState, StateRunning, 0); err != nil {
		return fmt.Errorf("mark monitor running: %w", err)
	}
	m.logger.Info("Monitor started",
		zap.Int("pollers", len(m.pollers)),
		zap.Int("line_detectors", len(m.lineDetectors)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range m.pollers {
		wg.Add(1)
		go func(p detectors.PollDetector) {
			defer wg.Done()
			m.pollLoop(runCtx, p)
		}(p)
	}

	lines := make(chan string, m.cfg.LineBuffer)
	tailErr := make(chan error, 1)
	go func() {
		tailErr <- m.source.Run(runCtx, lines)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.lineLoop(runCtx, lines)
	}()

	var fatal error
	select {
	case <-ctx.Done():
	case err := <-tailErr:
		if err != nil {
			fatal = fmt.Errorf("line source failed: %w", err)
			m.logger.Error("Line source failed, shutting down", zap.Error(err))
		}
	}

	cancel()
	m.join(&wg)

	// The parent context may already be gone; marking the stop gets its own
	// deadline.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := m.store.SetFlag(stopCtx, store.FlagMonitorState, StateStopped, 0); err != nil {
		m.logger.Warn("Failed to mark monitor stopped", zap.Error(err))
	}
	m.logger.Info("Monitor stopped")
	return fatal
}

// join waits for the workers, bounded by the join timeout.
func (m *Monitor) join(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.JoinTimeout):
		m.logger.Warn("Workers did not stop in time", zap.Duration("timeout", m.cfg.JoinTimeout))
	}
}

// pollLoop drives one poll detector at its own cadence. The first poll runs
// immediately so baselines are established at startup.
func (m *Monitor) pollLoop(ctx context.Context, p detectors.PollDetector) {
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	m.pollOnce(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx, p)
		}
	}
}

// pollOnce runs one iteration, catching panics so a malfunctioning detector
// cannot take the others down.
func (m *Monitor) pollOnce(ctx context.Context, p detectors.PollDetector) {
	defer func() {
		if r := recover(); r != nil {
			if m.detectorErrors != nil {
				m.detectorErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", p.Code())))
			}
			m.logger.Error("Detector panicked",
				zap.String("code", p.Code()),
				zap.Any("panic", r))
		}
	}()
	for _, f := range p.Poll(ctx, time.Now()) {
		m.emit(ctx, f)
	}
}

// lineLoop feeds every line through the line detectors in order.
func (m *Monitor) lineLoop(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			now := time.Now()
			for _, d := range m.lineDetectors {
				m.handleLine(ctx, d, line, now)
			}
		}
	}
}

func (m *Monitor) handleLine(ctx context.Context, d detectors.LineDetector, line string, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			if m.detectorErrors != nil {
				m.detectorErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", d.Code())))
			}
			m.logger.Error("Detector panicked",
				zap.String("code", d.Code()),
				zap.Any("panic", r))
		}
	}()
	if f := d.HandleLine(ctx, line, now); f != nil {
		m.emit(ctx, *f)
	}
}

// emit persists one finding and raises a notification when warranted. A
// storage failure is logged and dropped; one bad write must not kill the
// worker.
func (m *Monitor) emit(ctx context.Context, f domain.Finding) {
	var detailsJSON string
	if len(f.Details) > 0 {
		raw, err := json.Marshal(f.Details)
		if err != nil {
			m.logger.Warn("Failed to serialize details",
				zap.String("code", f.Code), zap.Error(err))
		} else {
			detailsJSON = string(raw)
		}
	}

	if _, err := m.store.AddEvent(ctx, f.Code, f.Severity, f.Message, f.Entity, detailsJSON); err != nil {
		if m.detectorErrors != nil {
			m.detectorErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", f.Code)))
		}
		m.logger.Error("Failed to store event",
			zap.String("code", f.Code),
			zap.String("entity", f.Entity),
			zap.Error(err))
		return
	}
	if m.eventsStored != nil {
		m.eventsStored.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", f.Code),
			attribute.String("severity", string(f.Severity)),
		))
	}

	m.logger.Info("Event",
		zap.String("code", f.Code),
		zap.String("severity", string(f.Severity)),
		zap.String("entity", f.Entity),
		zap.String("message", f.Message))

	if f.Severity == domain.SeverityCritical {
		m.notifyCritical(ctx, f)
	}
}

// notifyCritical sends a desktop notification unless notifications are off
// or the mute flag is set.
func (m *Monitor) notifyCritical(ctx context.Context, f domain.Finding) {
	if !m.cfg.NotifyEnabled || m.notifier == nil {
		return
	}
	muted, err := m.store.GetFlag(ctx, store.FlagMute)
	if err != nil {
		m.logger.Warn("Mute flag read failed", zap.Error(err))
		return
	}
	if muted != nil {
		return
	}

	title, body, key := notify.BuildCritical(f.Code, f.Entity, f.Message)
	if m.notifier.Notify(ctx, title, body, key) && m.notifications != nil {
		m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("code", f.Code)))
	}
}
