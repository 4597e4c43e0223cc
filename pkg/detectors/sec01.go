package detectors

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/guard"
	"github.com/vigil-sh/vigil/pkg/netscope"
)

// Auth-failure line shapes seen in the wild. The PAM variant may omit the
// user field.
var (
	reSSHFailed  = regexp.MustCompile(`(?i)Failed (?:password|publickey) for (?:invalid user )?(\S+) from ([0-9a-fA-F:.]+) port`)
	reSSHInvalid = regexp.MustCompile(`(?i)Invalid user (\S+) from ([0-9a-fA-F:.]+) port`)
	rePAMFail    = regexp.MustCompile(`(?i)authentication failure;.*rhost=([0-9a-fA-F:.]+)(?:\s+user=(\S+))?`)
)

// parseAuthFailure extracts (ip, user) from an auth-failure line.
func parseAuthFailure(line string) (string, string, bool) {
	if m := reSSHFailed.FindStringSubmatch(line); m != nil {
		return m[2], m[1], true
	}
	if m := reSSHInvalid.FindStringSubmatch(line); m != nil {
		return m[2], m[1], true
	}
	if m := rePAMFail.FindStringSubmatch(line); m != nil {
		user := m[2]
		if user == "" {
			user = "unknown"
		}
		return m[1], user, true
	}
	return "", "", false
}

// BruteForceConfig tunes SEC-01.
type BruteForceConfig struct {
	Window       time.Duration
	WarnAttempts int
	CritAttempts int
	WarnCooldown time.Duration
	CritCooldown time.Duration
	InfoCooldown time.Duration
	Logger       *zap.Logger
}

// DefaultBruteForceConfig returns the stock SEC-01 thresholds.
func DefaultBruteForceConfig() *BruteForceConfig {
	return &BruteForceConfig{
		Window:       60 * time.Second,
		WarnAttempts: 5,
		CritAttempts: 10,
		WarnCooldown: 60 * time.Second,
		CritCooldown: 120 * time.Second,
		InfoCooldown: 300 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *BruteForceConfig) SetDefaults() {
	d := DefaultBruteForceConfig()
	if c.Window == 0 {
		c.Window = d.Window
	}
	if c.WarnAttempts == 0 {
		c.WarnAttempts = d.WarnAttempts
	}
	if c.CritAttempts == 0 {
		c.CritAttempts = d.CritAttempts
	}
	if c.WarnCooldown == 0 {
		c.WarnCooldown = d.WarnCooldown
	}
	if c.CritCooldown == 0 {
		c.CritCooldown = d.CritCooldown
	}
	if c.InfoCooldown == 0 {
		c.InfoCooldown = d.InfoCooldown
	}
}

// Validate rejects inconsistent thresholds.
func (c *BruteForceConfig) Validate() error {
	if c.WarnAttempts < 1 {
		return fmt.Errorf("warn attempts must be at least 1")
	}
	if c.CritAttempts < c.WarnAttempts {
		return fmt.Errorf("crit attempts (%d) must not be below warn attempts (%d)", c.CritAttempts, c.WarnAttempts)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	return nil
}

// BruteForceDetector (SEC-01) counts auth failures per source IP in a
// sliding window. Severity is reduced for LAN sources and collapsed to INFO
// for loopback.
type BruteForceDetector struct {
	*BaseDetector
	cfg      *BruteForceConfig
	logger   *zap.Logger
	failures map[string]*guard.SlidingWindow
	cooldown *guard.CooldownMap
}

// NewBruteForceDetector builds SEC-01.
func NewBruteForceDetector(cfg *BruteForceConfig) (*BruteForceDetector, error) {
	if cfg == nil {
		cfg = DefaultBruteForceConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BruteForceDetector{
		BaseDetector: NewBaseDetector(domain.CodeSSHBruteForce),
		cfg:          cfg,
		logger:       logger.Named("sec01"),
		failures:     make(map[string]*guard.SlidingWindow),
		cooldown:     guard.NewCooldownMap(),
	}, nil
}

// HandleLine processes one auth-log line.
func (d *BruteForceDetector) HandleLine(_ context.Context, line string, now time.Time) *domain.Finding {
	d.RecordLine()

	ip, user, ok := parseAuthFailure(line)
	if !ok {
		return nil
	}

	w, exists := d.failures[ip]
	if !exists {
		w = guard.NewSlidingWindow(d.cfg.Window)
		d.failures[ip] = w
	}
	w.Record(now)
	count := w.Count()

	scope := netscope.Classify(ip)

	var rawSev domain.Severity
	var cooldown time.Duration
	var msg string

	switch {
	case count >= d.cfg.CritAttempts:
		rawSev = domain.SeverityCritical
		cooldown = d.cfg.CritCooldown
		msg = fmt.Sprintf("Suspected SSH brute force from %s: %d failures within %s (user=%s)", ip, count, d.cfg.Window, user)
	case count >= d.cfg.WarnAttempts:
		rawSev = domain.SeverityWarning
		cooldown = d.cfg.WarnCooldown
		msg = fmt.Sprintf("Repeated SSH failures from %s: %d within %s (user=%s)", ip, count, d.cfg.Window, user)
	default:
		// First failures are only worth a rate-limited INFO.
		rawSev = domain.SeverityInfo
		cooldown = d.cfg.InfoCooldown
		msg = fmt.Sprintf("SSH authentication failure from %s (user=%s)", ip, user)
	}

	if !d.cooldown.Allow(ip, string(rawSev), cooldown, now) {
		return nil
	}

	sev := netscope.Adjust(rawSev, scope)
	if scope == netscope.LAN && rawSev != domain.SeverityInfo {
		msg += " [LAN downgrade]"
	}

	d.RecordEmit()
	d.logger.Debug("Auth failure classified",
		zap.String("ip", ip),
		zap.Int("count", count),
		zap.String("severity", string(sev)))

	return &domain.Finding{
		Code:     d.Code(),
		Severity: sev,
		Entity:   ip,
		Message:  msg,
		Details: map[string]any{
			"user":     user,
			"count":    count,
			"scope":    string(scope),
			"window_s": int(d.cfg.Window.Seconds()),
		},
	}
}
