package detectors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/collectors/diskfree"
	"github.com/vigil-sh/vigil/pkg/domain"
)

// DiskUsageConfig tunes HEA-03.
type DiskUsageConfig struct {
	WarnPct     int
	CritPct     int
	Consecutive int
	// ClearHysteresisPct: an active alert only clears (re-arming the
	// trigger) once usage drops this many points below its threshold.
	ClearHysteresisPct int
	MinTotalBytes      uint64
	PollInterval       time.Duration
	Logger             *zap.Logger
}

// DefaultDiskUsageConfig returns the stock HEA-03 thresholds.
func DefaultDiskUsageConfig() *DiskUsageConfig {
	return &DiskUsageConfig{
		WarnPct:            85,
		CritPct:            95,
		Consecutive:        2,
		ClearHysteresisPct: 3,
		MinTotalBytes:      1 << 30,
		PollInterval:       30 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *DiskUsageConfig) SetDefaults() {
	d := DefaultDiskUsageConfig()
	if c.WarnPct == 0 {
		c.WarnPct = d.WarnPct
	}
	if c.CritPct == 0 {
		c.CritPct = d.CritPct
	}
	if c.Consecutive == 0 {
		c.Consecutive = d.Consecutive
	}
	if c.ClearHysteresisPct == 0 {
		c.ClearHysteresisPct = d.ClearHysteresisPct
	}
	if c.MinTotalBytes == 0 {
		c.MinTotalBytes = d.MinTotalBytes
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

// Validate rejects inconsistent thresholds.
func (c *DiskUsageConfig) Validate() error {
	if c.WarnPct < 1 || c.WarnPct > 100 || c.CritPct < 1 || c.CritPct > 100 {
		return fmt.Errorf("thresholds must be percentages")
	}
	if c.CritPct < c.WarnPct {
		return fmt.Errorf("crit pct (%d) must not be below warn pct (%d)", c.CritPct, c.WarnPct)
	}
	return nil
}

type mountState struct {
	warnStreak int
	critStreak int
	active     domain.Severity // zero value = no active alert
}

// DiskUsageDetector (HEA-03) tracks per-mount consecutive over-threshold
// polls. Streaks are check-counted, not time-based; an active alert stays
// latched until usage drops below threshold minus the clear hysteresis.
type DiskUsageDetector struct {
	*BaseDetector
	cfg     *DiskUsageConfig
	logger  *zap.Logger
	sampler *diskfree.Sampler
	mounts  map[string]*mountState
}

// NewDiskUsageDetector builds HEA-03 over the given mount sampler.
func NewDiskUsageDetector(cfg *DiskUsageConfig, sampler *diskfree.Sampler) (*DiskUsageDetector, error) {
	if cfg == nil {
		cfg = DefaultDiskUsageConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if sampler == nil {
		sampler = diskfree.NewSampler()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskUsageDetector{
		BaseDetector: NewBaseDetector(domain.CodeDiskUsage),
		cfg:          cfg,
		logger:       logger.Named("disk"),
		sampler:      sampler,
		mounts:       make(map[string]*mountState),
	}, nil
}

// Interval returns the poll period.
func (d *DiskUsageDetector) Interval() time.Duration { return d.cfg.PollInterval }

// Poll samples mount usage and reports threshold crossings.
func (d *DiskUsageDetector) Poll(_ context.Context, _ time.Time) []domain.Finding {
	d.RecordPoll()

	mounts, err := d.sampler.List(d.cfg.MinTotalBytes)
	if err != nil {
		d.RecordError(err)
		d.logger.Warn("Mount listing failed", zap.Error(err))
		return nil
	}

	present := make(map[string]struct{}, len(mounts))
	for _, m := range mounts {
		present[m.Mount] = struct{}{}
	}
	for mount := range d.mounts {
		if _, ok := present[mount]; !ok {
			delete(d.mounts, mount)
		}
	}

	var out []domain.Finding
	for _, m := range mounts {
		st, ok := d.mounts[m.Mount]
		if !ok {
			st = &mountState{}
			d.mounts[m.Mount] = st
		}

		if m.UsedPct >= d.cfg.WarnPct {
			st.warnStreak++
		} else {
			st.warnStreak = 0
		}
		if m.UsedPct >= d.cfg.CritPct {
			st.critStreak++
		} else {
			st.critStreak = 0
		}

		// Clear latched alerts once usage drops far enough to re-arm.
		if st.active == domain.SeverityCritical && m.UsedPct <= d.cfg.CritPct-d.cfg.ClearHysteresisPct {
			st.active = ""
		}
		if st.active == domain.SeverityWarning && m.UsedPct <= d.cfg.WarnPct-d.cfg.ClearHysteresisPct {
			st.active = ""
		}

		details := map[string]any{
			"mount":    m.Mount,
			"used_pct": m.UsedPct,
			"total":    diskfree.FormatGB(m.TotalBytes),
			"used":     diskfree.FormatGB(m.UsedBytes),
			"fstype":   m.FSType,
			"thresholds": map[string]any{
				"warn":        d.cfg.WarnPct,
				"crit":        d.cfg.CritPct,
				"consecutive": d.cfg.Consecutive,
			},
		}

		if st.critStreak >= d.cfg.Consecutive && st.active != domain.SeverityCritical {
			st.active = domain.SeverityCritical
			d.RecordEmit()
			out = append(out, domain.Finding{
				Code:     d.Code(),
				Severity: domain.SeverityCritical,
				Entity:   m.Mount,
				Message: fmt.Sprintf("Disk almost full: %s at %d%% (≥%d%% for %d checks)",
					m.Mount, m.UsedPct, d.cfg.CritPct, d.cfg.Consecutive),
				Details: details,
			})
			continue
		}

		if st.warnStreak >= d.cfg.Consecutive && st.active == "" {
			st.active = domain.SeverityWarning
			d.RecordEmit()
			out = append(out, domain.Finding{
				Code:     d.Code(),
				Severity: domain.SeverityWarning,
				Entity:   m.Mount,
				Message: fmt.Sprintf("Low disk space: %s at %d%% (≥%d%% for %d checks)",
					m.Mount, m.UsedPct, d.cfg.WarnPct, d.cfg.Consecutive),
				Details: details,
			})
		}
	}
	return out
}
