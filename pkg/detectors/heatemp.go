package detectors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/collectors/thermal"
	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/guard"
)

// TemperatureConfig tunes the HEA-01 and HEA-02 gates.
type TemperatureConfig struct {
	WarnTriggerC   float64
	WarnRecoverC   float64
	WarnTriggerFor time.Duration
	WarnRecoverFor time.Duration

	CritTriggerC   float64
	CritRecoverC   float64
	CritTriggerFor time.Duration
	CritRecoverFor time.Duration

	PollInterval time.Duration
	Logger       *zap.Logger
}

// DefaultTemperatureConfig returns the stock thermal thresholds.
func DefaultTemperatureConfig() *TemperatureConfig {
	return &TemperatureConfig{
		WarnTriggerC:   85,
		WarnRecoverC:   80,
		WarnTriggerFor: 30 * time.Second,
		WarnRecoverFor: 60 * time.Second,

		CritTriggerC:   95,
		CritRecoverC:   90,
		CritTriggerFor: 10 * time.Second,
		CritRecoverFor: 60 * time.Second,

		PollInterval: 5 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *TemperatureConfig) SetDefaults() {
	d := DefaultTemperatureConfig()
	if c.WarnTriggerC == 0 {
		c.WarnTriggerC = d.WarnTriggerC
	}
	if c.WarnRecoverC == 0 {
		c.WarnRecoverC = d.WarnRecoverC
	}
	if c.WarnTriggerFor == 0 {
		c.WarnTriggerFor = d.WarnTriggerFor
	}
	if c.WarnRecoverFor == 0 {
		c.WarnRecoverFor = d.WarnRecoverFor
	}
	if c.CritTriggerC == 0 {
		c.CritTriggerC = d.CritTriggerC
	}
	if c.CritRecoverC == 0 {
		c.CritRecoverC = d.CritRecoverC
	}
	if c.CritTriggerFor == 0 {
		c.CritTriggerFor = d.CritTriggerFor
	}
	if c.CritRecoverFor == 0 {
		c.CritRecoverFor = d.CritRecoverFor
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

// Validate rejects inconsistent thresholds.
func (c *TemperatureConfig) Validate() error {
	if c.WarnRecoverC >= c.WarnTriggerC {
		return fmt.Errorf("warn recover (%.0f) must be below warn trigger (%.0f)", c.WarnRecoverC, c.WarnTriggerC)
	}
	if c.CritRecoverC >= c.CritTriggerC {
		return fmt.Errorf("crit recover (%.0f) must be below crit trigger (%.0f)", c.CritRecoverC, c.CritTriggerC)
	}
	if c.CritTriggerC <= c.WarnTriggerC {
		return fmt.Errorf("crit trigger (%.0f) must be above warn trigger (%.0f)", c.CritTriggerC, c.WarnTriggerC)
	}
	return nil
}

// TemperatureDetector runs the HEA-01 (warning) and HEA-02 (critical) gates
// over one CPU temperature stream. While the critical gate is active the
// warning gate cannot newly activate; its accumulated trigger time is
// discarded, not banked.
type TemperatureDetector struct {
	*BaseDetector
	cfg    *TemperatureConfig
	logger *zap.Logger

	// readCelsius is injectable for tests.
	readCelsius func() (float64, error)

	warn *guard.HysteresisGate
	crit *guard.HysteresisGate
}

// NewTemperatureDetector builds HEA-01/02 over the given thermal sampler.
func NewTemperatureDetector(cfg *TemperatureConfig, sampler *thermal.Sampler) (*TemperatureDetector, error) {
	if cfg == nil {
		cfg = DefaultTemperatureConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if sampler == nil {
		sampler = thermal.NewSampler()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureDetector{
		BaseDetector: NewBaseDetector(domain.CodeTempWarning),
		cfg:          cfg,
		logger:       logger.Named("thermal"),
		readCelsius:  sampler.ReadCelsius,
		warn:         guard.NewHysteresisGate(cfg.WarnTriggerFor, cfg.WarnRecoverFor),
		crit:         guard.NewHysteresisGate(cfg.CritTriggerFor, cfg.CritRecoverFor),
	}, nil
}

// Interval returns the poll period.
func (d *TemperatureDetector) Interval() time.Duration { return d.cfg.PollInterval }

// Poll reads the temperature and advances both gates. Hosts without a
// usable sensor simply skip the cycle.
func (d *TemperatureDetector) Poll(_ context.Context, now time.Time) []domain.Finding {
	d.RecordPoll()

	temp, err := d.readCelsius()
	if err != nil {
		if !errors.Is(err, thermal.ErrNoSensor) {
			d.RecordError(err)
			d.logger.Warn("Temperature read failed", zap.Error(err))
		}
		return nil
	}

	degrees := int(math.Round(temp))
	var out []domain.Finding

	// Critical gate first so the warning gate sees its fresh state.
	switch d.crit.Observe(now, temp >= d.cfg.CritTriggerC, temp <= d.cfg.CritRecoverC) {
	case 1:
		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     domain.CodeTempCritical,
			Severity: domain.SeverityCritical,
			Entity:   "cpu",
			Message: fmt.Sprintf("Critical CPU temperature: %d°C (≥%.0f°C for %s)",
				degrees, d.cfg.CritTriggerC, d.cfg.CritTriggerFor),
			Details: map[string]any{"temp_c": temp, "threshold_c": d.cfg.CritTriggerC},
		})
	case -1:
		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     domain.CodeTempCritical,
			Severity: domain.SeverityInfo,
			Entity:   "cpu",
			Message:  fmt.Sprintf("CPU temperature recovered from critical range: %d°C", degrees),
			Details:  map[string]any{"temp_c": temp},
		})
	}

	// The warning gate is blocked from newly activating while critical is
	// on; an already-active warning gate still recovers normally.
	warnTriggering := temp >= d.cfg.WarnTriggerC && !d.crit.Active()
	switch d.warn.Observe(now, warnTriggering, temp <= d.cfg.WarnRecoverC) {
	case 1:
		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     domain.CodeTempWarning,
			Severity: domain.SeverityWarning,
			Entity:   "cpu",
			Message: fmt.Sprintf("High CPU temperature: %d°C (≥%.0f°C for %s)",
				degrees, d.cfg.WarnTriggerC, d.cfg.WarnTriggerFor),
			Details: map[string]any{"temp_c": temp, "threshold_c": d.cfg.WarnTriggerC},
		})
	case -1:
		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     domain.CodeTempWarning,
			Severity: domain.SeverityInfo,
			Entity:   "cpu",
			Message:  fmt.Sprintf("CPU temperature back to normal: %d°C", degrees),
			Details:  map[string]any{"temp_c": temp},
		})
	}

	return out
}
