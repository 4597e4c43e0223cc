package detectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/guard"
)

// Typical privileged-command line in auth.log:
// sudo: alice : TTY=pts/0 ; PWD=/home/alice ; USER=root ; COMMAND=/usr/bin/apt update
var (
	reSudoCmd      = regexp.MustCompile(`(?i)sudo:\s+(\S+)\s*:\s+TTY=([^;]+)\s*;\s+PWD=([^;]+)\s*;\s+USER=([^;]+)\s*;\s+COMMAND=(.+)$`)
	reSudoAuthFail = regexp.MustCompile(`(?i)sudo: pam_unix\(sudo:auth\): authentication failure`)
	reSpaces       = regexp.MustCompile(`\s+`)
)

// High-risk command patterns, checked before the warning set.
var sudoCritPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/etc/sudoers(\b|\.d/)`),
	regexp.MustCompile(`(?i)/etc/(passwd|shadow|group|gshadow)\b`),
	regexp.MustCompile(`(?i)\b(useradd|adduser|usermod)\b`),
	regexp.MustCompile(`(?i)\bpasswd\b`),
	regexp.MustCompile(`(?i)\bvisudo\b`),
	regexp.MustCompile(`(?i)/etc/ssh/sshd_config\b`),
	regexp.MustCompile(`(?i)authorized_keys\b`),
	regexp.MustCompile(`(?i)\bufw\s+disable\b`),
	regexp.MustCompile(`(?i)\biptables\b.*\s-F\b`),
	regexp.MustCompile(`(?i)\bjournalctl\b.*--vacuum`),
	regexp.MustCompile(`(?i)\btruncate\b.*(/var/log|auth\.log|syslog)`),
	regexp.MustCompile(`(?i)\brm\b.*(/var/log|auth\.log|syslog)`),
	regexp.MustCompile(`(?i)\bcurl\b.*\|\s*(sh|bash)`),
	regexp.MustCompile(`(?i)\bwget\b.*\|\s*(sh|bash)`),
}

// Medium-risk command patterns.
var sudoWarnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bash|sh|zsh)\b`),
	regexp.MustCompile(`(?i)\bsu\b`),
	regexp.MustCompile(`(?i)\bdpkg\b`),
	regexp.MustCompile(`(?i)\bsystemctl\s+(stop|disable)\b`),
	regexp.MustCompile(`(?i)\bchmod\b.*\s/(etc|usr|var)\b`),
	regexp.MustCompile(`(?i)\bchown\b.*\s/(etc|usr|var)\b`),
}

// classifySudoCommand returns the raw risk severity of a command string.
func classifySudoCommand(cmd string) domain.Severity {
	for _, p := range sudoCritPatterns {
		if p.MatchString(cmd) {
			return domain.SeverityCritical
		}
	}
	for _, p := range sudoWarnPatterns {
		if p.MatchString(cmd) {
			return domain.SeverityWarning
		}
	}
	return domain.SeverityInfo
}

// SudoActivityConfig tunes SEC-03.
type SudoActivityConfig struct {
	FailWarnWindow time.Duration
	FailCritWindow time.Duration
	FailWarnCount  int
	FailCritCount  int
	InfoCooldown   time.Duration
	WarnCooldown   time.Duration
	CritCooldown   time.Duration
	Logger         *zap.Logger
}

// DefaultSudoActivityConfig returns the stock SEC-03 thresholds.
func DefaultSudoActivityConfig() *SudoActivityConfig {
	return &SudoActivityConfig{
		FailWarnWindow: 60 * time.Second,
		FailCritWindow: 120 * time.Second,
		FailWarnCount:  2,
		FailCritCount:  4,
		InfoCooldown:   30 * time.Second,
		WarnCooldown:   60 * time.Second,
		CritCooldown:   120 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *SudoActivityConfig) SetDefaults() {
	d := DefaultSudoActivityConfig()
	if c.FailWarnWindow == 0 {
		c.FailWarnWindow = d.FailWarnWindow
	}
	if c.FailCritWindow == 0 {
		c.FailCritWindow = d.FailCritWindow
	}
	if c.FailWarnCount == 0 {
		c.FailWarnCount = d.FailWarnCount
	}
	if c.FailCritCount == 0 {
		c.FailCritCount = d.FailCritCount
	}
	if c.InfoCooldown == 0 {
		c.InfoCooldown = d.InfoCooldown
	}
	if c.WarnCooldown == 0 {
		c.WarnCooldown = d.WarnCooldown
	}
	if c.CritCooldown == 0 {
		c.CritCooldown = d.CritCooldown
	}
}

// Validate rejects inconsistent windows.
func (c *SudoActivityConfig) Validate() error {
	if c.FailCritWindow < c.FailWarnWindow {
		return fmt.Errorf("crit window must not be shorter than warn window")
	}
	if c.FailWarnCount < 1 || c.FailCritCount < 1 {
		return fmt.Errorf("failure thresholds must be at least 1")
	}
	return nil
}

// SudoActivityDetector (SEC-03) classifies privileged-command executions
// and counts privileged-auth failures. INFO commands are only reported the
// first time their (user, runas, command) fingerprint appears in the
// durable ledger; repeats stay silent.
type SudoActivityDetector struct {
	*BaseDetector
	cfg       *SudoActivityConfig
	logger    *zap.Logger
	ledger    Ledger
	authFails *guard.SlidingWindow
	cooldown  *guard.CooldownMap
}

// NewSudoActivityDetector builds SEC-03. ledger must not be nil.
func NewSudoActivityDetector(cfg *SudoActivityConfig, ledger Ledger) (*SudoActivityDetector, error) {
	if cfg == nil {
		cfg = DefaultSudoActivityConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SudoActivityDetector{
		BaseDetector: NewBaseDetector(domain.CodeSudoActivity),
		cfg:          cfg,
		logger:       logger.Named("sec03"),
		ledger:       ledger,
		authFails:    guard.NewSlidingWindow(cfg.FailCritWindow),
		cooldown:     guard.NewCooldownMap(),
	}, nil
}

func (d *SudoActivityDetector) cooldownFor(sev domain.Severity) time.Duration {
	switch sev {
	case domain.SeverityCritical:
		return d.cfg.CritCooldown
	case domain.SeverityWarning:
		return d.cfg.WarnCooldown
	default:
		return d.cfg.InfoCooldown
	}
}

// HandleLine processes one auth-log line.
func (d *SudoActivityDetector) HandleLine(ctx context.Context, line string, now time.Time) *domain.Finding {
	d.RecordLine()

	if reSudoAuthFail.MatchString(line) {
		return d.handleAuthFailure(now)
	}

	m := reSudoCmd.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	user := m[1]
	tty := strings.TrimSpace(m[2])
	pwd := strings.TrimSpace(m[3])
	runas := strings.TrimSpace(m[4])
	cmd := strings.TrimSpace(m[5])

	sev := classifySudoCommand(cmd)

	cmdNorm := truncate(reSpaces.ReplaceAllString(cmd, " "), 200)
	fingerprint := fmt.Sprintf("%s|%s|%s", user, runas, cmdNorm)

	// Routine INFO commands are only interesting once per fingerprint.
	if sev == domain.SeverityInfo {
		isNew, err := d.ledger.FirstSeenTouch(ctx, "sec03|"+fingerprint)
		if err != nil {
			d.RecordError(err)
			d.logger.Warn("First-seen lookup failed", zap.Error(err))
			return nil
		}
		if !isNew {
			return nil
		}
	}

	if !d.cooldown.Allow(fingerprint, string(sev), d.cooldownFor(sev), now) {
		return nil
	}

	d.RecordEmit()
	return &domain.Finding{
		Code:     d.Code(),
		Severity: sev,
		Entity:   user,
		Message: fmt.Sprintf("Privileged command: %s (runas=%s, pwd=%s, tty=%s)",
			truncate(cmdNorm, 120), runas, pwd, tty),
		Details: map[string]any{
			"user":    user,
			"runas":   runas,
			"tty":     tty,
			"pwd":     pwd,
			"command": cmdNorm,
		},
	}
}

// handleAuthFailure counts repeated privileged-auth failures in dual
// 1-minute / 2-minute windows, mirroring SEC-01's structure.
func (d *SudoActivityDetector) handleAuthFailure(now time.Time) *domain.Finding {
	d.authFails.Record(now)

	countCrit := d.authFails.Count()
	countWarn := d.authFails.CountSince(now, d.cfg.FailWarnWindow)

	var sev domain.Severity
	switch {
	case countCrit >= d.cfg.FailCritCount:
		sev = domain.SeverityCritical
	case countWarn >= d.cfg.FailWarnCount:
		sev = domain.SeverityWarning
	default:
		return nil
	}

	if !d.cooldown.Allow("sudo_auth_fail", string(sev), d.cooldownFor(sev), now) {
		return nil
	}

	d.RecordEmit()
	return &domain.Finding{
		Code:     d.Code(),
		Severity: sev,
		Entity:   "local",
		Message: fmt.Sprintf("Repeated privileged-auth failures: %d in %s, %d in %s (possible local password guessing)",
			countWarn, d.cfg.FailWarnWindow, countCrit, d.cfg.FailCritWindow),
		Details: map[string]any{
			"fails_warn_window": countWarn,
			"fails_crit_window": countCrit,
		},
	}
}
