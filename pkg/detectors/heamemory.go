package detectors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/collectors/meminfo"
	"github.com/vigil-sh/vigil/pkg/domain"
)

// MemoryPressureConfig tunes HEA-05.
type MemoryPressureConfig struct {
	WarnMemAvailPct float64
	CritMemAvailPct float64
	WarnSwapUsedPct float64
	CritSwapUsedPct float64
	WarnSwapOutPS   float64
	CritSwapOutPS   float64

	// Consecutive polls at a level before transitioning in; ClearConsecutive
	// polls at OK before transitioning out. Recovery is deliberately more
	// conservative than entry.
	Consecutive      int
	ClearConsecutive int
	MinEmitInterval  time.Duration

	PollInterval time.Duration
	Logger       *zap.Logger
}

// DefaultMemoryPressureConfig returns the stock HEA-05 thresholds.
func DefaultMemoryPressureConfig() *MemoryPressureConfig {
	return &MemoryPressureConfig{
		WarnMemAvailPct: 10,
		CritMemAvailPct: 5,
		WarnSwapUsedPct: 70,
		CritSwapUsedPct: 90,
		WarnSwapOutPS:   200,
		CritSwapOutPS:   1000,

		Consecutive:      2,
		ClearConsecutive: 3,
		MinEmitInterval:  15 * time.Second,

		PollInterval: 5 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *MemoryPressureConfig) SetDefaults() {
	d := DefaultMemoryPressureConfig()
	if c.WarnMemAvailPct == 0 {
		c.WarnMemAvailPct = d.WarnMemAvailPct
	}
	if c.CritMemAvailPct == 0 {
		c.CritMemAvailPct = d.CritMemAvailPct
	}
	if c.WarnSwapUsedPct == 0 {
		c.WarnSwapUsedPct = d.WarnSwapUsedPct
	}
	if c.CritSwapUsedPct == 0 {
		c.CritSwapUsedPct = d.CritSwapUsedPct
	}
	if c.WarnSwapOutPS == 0 {
		c.WarnSwapOutPS = d.WarnSwapOutPS
	}
	if c.CritSwapOutPS == 0 {
		c.CritSwapOutPS = d.CritSwapOutPS
	}
	if c.Consecutive == 0 {
		c.Consecutive = d.Consecutive
	}
	if c.ClearConsecutive == 0 {
		c.ClearConsecutive = d.ClearConsecutive
	}
	if c.MinEmitInterval == 0 {
		c.MinEmitInterval = d.MinEmitInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

// memoryMetrics is one derived reading: percentages plus swap page rates
// computed from the cumulative counter deltas.
type memoryMetrics struct {
	memTotalKB  int64
	memAvailKB  int64
	memAvailPct float64
	swapTotalKB int64
	swapUsedKB  int64
	swapUsedPct float64
	swapInPS    float64
	swapOutPS   float64
}

// MemoryPressureDetector (HEA-05) combines available-memory %, swap-used %
// and swap-out rate into one level via worst-signal-wins, with asymmetric
// consecutive-poll hysteresis and a minimum inter-emission interval.
type MemoryPressureDetector struct {
	*BaseDetector
	cfg     *MemoryPressureConfig
	logger  *zap.Logger
	sampler *meminfo.Sampler

	prev     *meminfo.Snapshot
	level    domain.Severity // "" = OK
	hitWarn  int
	hitCrit  int
	hitOK    int
	lastEmit time.Time
}

// NewMemoryPressureDetector builds HEA-05 over the given meminfo sampler.
func NewMemoryPressureDetector(cfg *MemoryPressureConfig, sampler *meminfo.Sampler) (*MemoryPressureDetector, error) {
	if cfg == nil {
		cfg = DefaultMemoryPressureConfig()
	}
	cfg.SetDefaults()
	if sampler == nil {
		sampler = meminfo.NewSampler()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryPressureDetector{
		BaseDetector: NewBaseDetector(domain.CodeMemoryPressure),
		cfg:          cfg,
		logger:       logger.Named("memory"),
		sampler:      sampler,
	}, nil
}

// Interval returns the poll period.
func (d *MemoryPressureDetector) Interval() time.Duration { return d.cfg.PollInterval }

func (d *MemoryPressureDetector) metrics(snap meminfo.Snapshot) memoryMetrics {
	m := memoryMetrics{
		memTotalKB:  snap.MemTotalKB,
		memAvailKB:  snap.MemAvailableKB,
		swapTotalKB: snap.SwapTotalKB,
	}
	m.swapUsedKB = snap.SwapTotalKB - snap.SwapFreeKB
	if m.swapUsedKB < 0 {
		m.swapUsedKB = 0
	}
	if m.memTotalKB > 0 {
		m.memAvailPct = float64(m.memAvailKB) * 100 / float64(m.memTotalKB)
	}
	if m.swapTotalKB > 0 {
		m.swapUsedPct = float64(m.swapUsedKB) * 100 / float64(m.swapTotalKB)
	}

	if d.prev != nil {
		dt := snap.Taken.Sub(d.prev.Taken).Seconds()
		if dt < 0.001 {
			dt = 0.001
		}
		if din := snap.PswpIn - d.prev.PswpIn; din > 0 {
			m.swapInPS = float64(din) / dt
		}
		if dout := snap.PswpOut - d.prev.PswpOut; dout > 0 {
			m.swapOutPS = float64(dout) / dt
		}
	}
	return m
}

// decideLevel applies worst-signal-wins across the three inputs.
func (d *MemoryPressureDetector) decideLevel(m memoryMetrics) domain.Severity {
	if m.memAvailPct <= d.cfg.CritMemAvailPct ||
		m.swapUsedPct >= d.cfg.CritSwapUsedPct ||
		m.swapOutPS >= d.cfg.CritSwapOutPS {
		return domain.SeverityCritical
	}
	if m.memAvailPct <= d.cfg.WarnMemAvailPct ||
		m.swapUsedPct >= d.cfg.WarnSwapUsedPct ||
		m.swapOutPS >= d.cfg.WarnSwapOutPS {
		return domain.SeverityWarning
	}
	return ""
}

func (d *MemoryPressureDetector) canEmit(now time.Time) bool {
	return d.lastEmit.IsZero() || now.Sub(d.lastEmit) >= d.cfg.MinEmitInterval
}

func (d *MemoryPressureDetector) details(m memoryMetrics) map[string]any {
	return map[string]any{
		"mem_total_kb":      m.memTotalKB,
		"mem_available_kb":  m.memAvailKB,
		"mem_available_pct": m.memAvailPct,
		"swap_total_kb":     m.swapTotalKB,
		"swap_used_kb":      m.swapUsedKB,
		"swap_used_pct":     m.swapUsedPct,
		"swapin_ps":         m.swapInPS,
		"swapout_ps":        m.swapOutPS,
		"thresholds": map[string]any{
			"warn_mem_avail_pct": d.cfg.WarnMemAvailPct,
			"crit_mem_avail_pct": d.cfg.CritMemAvailPct,
			"warn_swap_used_pct": d.cfg.WarnSwapUsedPct,
			"crit_swap_used_pct": d.cfg.CritSwapUsedPct,
			"warn_swapout_ps":    d.cfg.WarnSwapOutPS,
			"crit_swapout_ps":    d.cfg.CritSwapOutPS,
		},
	}
}

func (d *MemoryPressureDetector) pressureMessage(sev domain.Severity, m memoryMetrics) string {
	return fmt.Sprintf("Memory pressure %s: MemAvailable %.2f%% (%dMB/%dMB), SwapUsed %dMB/%dMB, swapout %.2f pages/s (swapin %.2f pages/s)",
		sev, m.memAvailPct, m.memAvailKB/1024, m.memTotalKB/1024,
		m.swapUsedKB/1024, m.swapTotalKB/1024, m.swapOutPS, m.swapInPS)
}

// Poll samples memory state and reports level transitions.
func (d *MemoryPressureDetector) Poll(_ context.Context, now time.Time) []domain.Finding {
	d.RecordPoll()

	snap, err := d.sampler.Read()
	if err != nil {
		d.RecordError(err)
		d.logger.Warn("Memory read failed", zap.Error(err))
		return nil
	}

	// First sample only establishes the rate baseline.
	if d.prev == nil {
		d.prev = &snap
		return nil
	}

	m := d.metrics(snap)
	level := d.decideLevel(m)
	d.prev = &snap

	switch level {
	case domain.SeverityCritical:
		d.hitCrit++
		d.hitWarn, d.hitOK = 0, 0
	case domain.SeverityWarning:
		d.hitWarn++
		d.hitCrit, d.hitOK = 0, 0
	default:
		d.hitOK++
		d.hitWarn, d.hitCrit = 0, 0
	}

	var out []domain.Finding
	switch {
	case level == domain.SeverityCritical && d.hitCrit >= d.cfg.Consecutive:
		if d.level != domain.SeverityCritical && d.canEmit(now) {
			details := d.details(m)
			details["top_processes"] = d.sampler.TopRSS(3)
			d.RecordEmit()
			out = append(out, domain.Finding{
				Code:     d.Code(),
				Severity: domain.SeverityCritical,
				Entity:   "memory",
				Message:  d.pressureMessage(domain.SeverityCritical, m),
				Details:  details,
			})
			d.level = domain.SeverityCritical
			d.lastEmit = now
		}

	case level == domain.SeverityWarning && d.hitWarn >= d.cfg.Consecutive:
		// Only an OK->WARNING entry emits; easing off from CRITICAL stays
		// silent until fully cleared.
		if d.level == "" && d.canEmit(now) {
			details := d.details(m)
			details["top_processes"] = d.sampler.TopRSS(3)
			d.RecordEmit()
			out = append(out, domain.Finding{
				Code:     d.Code(),
				Severity: domain.SeverityWarning,
				Entity:   "memory",
				Message:  d.pressureMessage(domain.SeverityWarning, m),
				Details:  details,
			})
			d.level = domain.SeverityWarning
			d.lastEmit = now
		}

	case level == "" && d.hitOK >= d.cfg.ClearConsecutive:
		if d.level != "" && d.canEmit(now) {
			d.RecordEmit()
			out = append(out, domain.Finding{
				Code:     d.Code(),
				Severity: domain.SeverityInfo,
				Entity:   "memory",
				Message:  "Memory pressure cleared: MemAvailable and swap activity returned to normal",
				Details:  d.details(m),
			})
			d.level = ""
			d.lastEmit = now
		}
	}
	return out
}
