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

var reSSHAccepted = regexp.MustCompile(`(?i)Accepted (?:password|publickey) for (?:invalid user )?(\S+) from ([0-9a-fA-F:.]+) port`)

// SuccessAfterFailConfig tunes SEC-02.
type SuccessAfterFailConfig struct {
	FailWindow time.Duration
	MinFails   int
	// HighFails is the failure count at which a global-scope source
	// escalates to CRITICAL.
	HighFails int
	Cooldown  time.Duration
	Logger    *zap.Logger
}

// DefaultSuccessAfterFailConfig returns the stock SEC-02 thresholds.
func DefaultSuccessAfterFailConfig() *SuccessAfterFailConfig {
	return &SuccessAfterFailConfig{
		FailWindow: 600 * time.Second,
		MinFails:   3,
		HighFails:  9,
		Cooldown:   60 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *SuccessAfterFailConfig) SetDefaults() {
	d := DefaultSuccessAfterFailConfig()
	if c.FailWindow == 0 {
		c.FailWindow = d.FailWindow
	}
	if c.MinFails == 0 {
		c.MinFails = d.MinFails
	}
	if c.HighFails == 0 {
		c.HighFails = d.HighFails
	}
	if c.Cooldown == 0 {
		c.Cooldown = d.Cooldown
	}
}

// Validate rejects inconsistent thresholds.
func (c *SuccessAfterFailConfig) Validate() error {
	if c.MinFails < 1 {
		return fmt.Errorf("min fails must be at least 1")
	}
	if c.HighFails < c.MinFails {
		return fmt.Errorf("high fails (%d) must not be below min fails (%d)", c.HighFails, c.MinFails)
	}
	if c.FailWindow <= 0 {
		return fmt.Errorf("fail window must be positive")
	}
	return nil
}

// SuccessAfterFailDetector (SEC-02) flags a successful login preceded by a
// burst of failures from the same source: the classic signature of a
// guessed password.
type SuccessAfterFailDetector struct {
	*BaseDetector
	cfg      *SuccessAfterFailConfig
	logger   *zap.Logger
	failures map[string]*guard.SlidingWindow
	cooldown *guard.CooldownMap
}

// NewSuccessAfterFailDetector builds SEC-02.
func NewSuccessAfterFailDetector(cfg *SuccessAfterFailConfig) (*SuccessAfterFailDetector, error) {
	if cfg == nil {
		cfg = DefaultSuccessAfterFailConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SuccessAfterFailDetector{
		BaseDetector: NewBaseDetector(domain.CodeSSHSuccessAfter),
		cfg:          cfg,
		logger:       logger.Named("sec02"),
		failures:     make(map[string]*guard.SlidingWindow),
		cooldown:     guard.NewCooldownMap(),
	}, nil
}

// HandleLine records failures and checks successes against them.
func (d *SuccessAfterFailDetector) HandleLine(_ context.Context, line string, now time.Time) *domain.Finding {
	d.RecordLine()

	if ip, user, ok := parseAuthFailure(line); ok && user != "" {
		w, exists := d.failures[ip]
		if !exists {
			w = guard.NewSlidingWindow(d.cfg.FailWindow)
			d.failures[ip] = w
		}
		w.Record(now)
		return nil
	}

	m := reSSHAccepted.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	user, ip := m[1], m[2]

	w, exists := d.failures[ip]
	if !exists {
		// No prior failures: an ordinary login, nothing to report.
		return nil
	}
	w.Prune(now)
	fails := w.Count()
	if fails < d.cfg.MinFails {
		return nil
	}

	scope := netscope.Classify(ip)
	sev := netscope.Adjust(domain.SeverityWarning, scope)
	if scope == netscope.Global && fails >= d.cfg.HighFails {
		sev = domain.SeverityCritical
	}

	if !d.cooldown.Allow(ip, string(sev), d.cfg.Cooldown, now) {
		return nil
	}

	d.RecordEmit()
	d.logger.Debug("Success after failures",
		zap.String("ip", ip),
		zap.Int("failures", fails),
		zap.String("severity", string(sev)))

	return &domain.Finding{
		Code:     d.Code(),
		Severity: sev,
		Entity:   ip,
		Message: fmt.Sprintf("Successful login after %d failed attempts from %s (user=%s)",
			fails, ip, user),
		Details: map[string]any{
			"user":          user,
			"failures":      fails,
			"scope":         string(scope),
			"fail_window_s": int(d.cfg.FailWindow.Seconds()),
		},
	}
}
