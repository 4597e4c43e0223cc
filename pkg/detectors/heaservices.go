package detectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/collectors/sysd"
	"github.com/vigil-sh/vigil/pkg/domain"
)

// ServiceSpec declares one watched unit. Core units (OnlyIfEnabled=false)
// are always expected running; optional units only count when their unit
// file is enabled.
type ServiceSpec struct {
	Unit          string
	BaseSeverity  domain.Severity
	OnlyIfEnabled bool
}

// DetectServices probes the host for a curated set of units, picking the
// first existing unit in each family. Core units alert CRITICAL when down;
// optional ones alert WARNING, escalating to CRITICAL on a hard failure.
func DetectServices(ctx context.Context, sampler *sysd.Sampler) []ServiceSpec {
	var specs []ServiceSpec
	pickFirst := func(candidates ...string) string {
		existing := sampler.ProbeExisting(ctx, candidates)
		if len(existing) == 0 {
			return ""
		}
		return existing[0]
	}
	add := func(unit string, sev domain.Severity, onlyIfEnabled bool) {
		if unit != "" {
			specs = append(specs, ServiceSpec{Unit: unit, BaseSeverity: sev, OnlyIfEnabled: onlyIfEnabled})
		}
	}

	for _, unit := range []string{"systemd-journald.service", "dbus.service", "systemd-logind.service"} {
		add(pickFirst(unit), domain.SeverityCritical, false)
	}
	add(pickFirst("NetworkManager.service", "systemd-networkd.service"), domain.SeverityCritical, false)
	add(pickFirst("systemd-resolved.service"), domain.SeverityWarning, false)
	add(pickFirst("cron.service", "crond.service"), domain.SeverityWarning, true)
	add(pickFirst("ssh.service", "sshd.service"), domain.SeverityWarning, true)
	add(pickFirst("chronyd.service", "systemd-timesyncd.service"), domain.SeverityWarning, true)
	add(pickFirst("ufw.service", "firewalld.service"), domain.SeverityWarning, true)
	for _, unit := range []string{"fail2ban.service", "auditd.service", "rsyslog.service"} {
		add(pickFirst(unit), domain.SeverityWarning, true)
	}
	return specs
}

// ServiceHealthConfig tunes HEA-04.
type ServiceHealthConfig struct {
	// Specs is the watched unit set; when nil the detector probes the host
	// on first use.
	Specs []ServiceSpec
	// Consecutive unhealthy polls required before emitting.
	Consecutive  int
	PollInterval time.Duration
	Logger       *zap.Logger
}

// DefaultServiceHealthConfig returns the stock HEA-04 settings.
func DefaultServiceHealthConfig() *ServiceHealthConfig {
	return &ServiceHealthConfig{
		Consecutive:  2,
		PollInterval: 15 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *ServiceHealthConfig) SetDefaults() {
	d := DefaultServiceHealthConfig()
	if c.Consecutive == 0 {
		c.Consecutive = d.Consecutive
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

type unitHealth struct {
	streak int
	isBad  bool
}

// ServiceHealthDetector (HEA-04) classifies each watched unit per poll and
// emits edge-triggered unhealthy alerts: one emission per bad episode,
// re-armed only after the unit returns healthy.
type ServiceHealthDetector struct {
	*BaseDetector
	cfg     *ServiceHealthConfig
	logger  *zap.Logger
	sampler *sysd.Sampler

	probed bool
	specs  []ServiceSpec
	health map[string]*unitHealth
}

// NewServiceHealthDetector builds HEA-04 over the given systemd sampler.
func NewServiceHealthDetector(cfg *ServiceHealthConfig, sampler *sysd.Sampler) (*ServiceHealthDetector, error) {
	if cfg == nil {
		cfg = DefaultServiceHealthConfig()
	}
	cfg.SetDefaults()
	if sampler == nil {
		sampler = sysd.NewSampler()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &ServiceHealthDetector{
		BaseDetector: NewBaseDetector(domain.CodeServiceHealth),
		cfg:          cfg,
		logger:       logger.Named("services"),
		sampler:      sampler,
		health:       make(map[string]*unitHealth),
	}
	if cfg.Specs != nil {
		d.specs = cfg.Specs
		d.probed = true
	}
	return d, nil
}

// Interval returns the poll period.
func (d *ServiceHealthDetector) Interval() time.Duration { return d.cfg.PollInterval }

// evaluate classifies one unit state against its spec. reason is "failed"
// or "inactive" when unhealthy.
func evaluate(st sysd.UnitState, spec ServiceSpec) (unhealthy bool, reason string, sev domain.Severity) {
	active := strings.ToLower(st.Active)
	sub := strings.ToLower(st.Sub)

	if spec.OnlyIfEnabled && !st.Enabled() {
		return false, "", domain.SeverityInfo
	}

	switch active {
	case "active", "activating", "deactivating", "reloading":
		return false, "", domain.SeverityInfo
	}

	if active == "failed" || sub == "failed" {
		return true, "failed", domain.SeverityCritical
	}

	if active == "inactive" || active == "dead" {
		if st.Enabled() || !spec.OnlyIfEnabled {
			sev := domain.SeverityWarning
			if spec.BaseSeverity == domain.SeverityCritical {
				sev = domain.SeverityCritical
			}
			return true, "inactive", sev
		}
	}

	return false, "", domain.SeverityInfo
}

// Poll reads all watched units and reports newly-unhealthy ones.
func (d *ServiceHealthDetector) Poll(ctx context.Context, _ time.Time) []domain.Finding {
	d.RecordPoll()

	if !d.probed {
		d.specs = DetectServices(ctx, d.sampler)
		d.probed = true
		d.logger.Info("Service watch set detected", zap.Int("units", len(d.specs)))
	}
	if len(d.specs) == 0 {
		return nil
	}

	units := make([]string, 0, len(d.specs))
	for _, s := range d.specs {
		units = append(units, s.Unit)
	}
	states, err := d.sampler.ReadStates(ctx, units)
	if err != nil {
		d.RecordError(err)
		d.logger.Warn("Unit state read failed", zap.Error(err))
		return nil
	}

	var out []domain.Finding
	for _, spec := range d.specs {
		st, ok := states[spec.Unit]
		if !ok || strings.EqualFold(st.Load, "not-found") {
			continue
		}

		h, tracked := d.health[spec.Unit]
		if !tracked {
			h = &unitHealth{}
			d.health[spec.Unit] = h
		}

		unhealthy, reason, sev := evaluate(st, spec)
		if !unhealthy {
			h.streak = 0
			h.isBad = false
			continue
		}

		h.streak++
		if h.streak < d.cfg.Consecutive || h.isBad {
			continue
		}
		h.isBad = true

		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     d.Code(),
			Severity: sev,
			Entity:   spec.Unit,
			Message: fmt.Sprintf("Service unhealthy: %s (active=%s, sub=%s, state=%s, result=%s, status=%d, restarts=%d)",
				spec.Unit, st.Active, st.Sub, st.UnitFileState, orDash(st.Result), st.ExecMainStatus, st.NRestarts),
			Details: map[string]any{
				"unit":     spec.Unit,
				"reason":   reason,
				"active":   st.Active,
				"sub":      st.Sub,
				"enabled":  st.Enabled(),
				"result":   st.Result,
				"restarts": st.NRestarts,
			},
		})
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
