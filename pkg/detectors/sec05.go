package detectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/guard"
	"github.com/vigil-sh/vigil/pkg/store"
)

// IntegrityConfig tunes SEC-05.
type IntegrityConfig struct {
	// CriticalPaths always alert CRITICAL on change.
	CriticalPaths []string
	// CriticalGlobs expand into additional critical paths each poll.
	CriticalGlobs []string
	// WarningPaths alert WARNING by default, subject to downgrade and
	// escalation.
	WarningPaths []string
	// DebouncePolls is how many consecutive polls must agree on a new
	// fingerprint before it is accepted.
	DebouncePolls int
	Cooldown      time.Duration
	// CorrelationWindow escalates WARNING to CRITICAL when a SEC-02 or
	// SEC-03 event landed this recently.
	CorrelationWindow time.Duration
	PollInterval      time.Duration
	Logger            *zap.Logger
}

// DefaultIntegrityConfig returns the stock SEC-05 watch set and thresholds.
func DefaultIntegrityConfig() *IntegrityConfig {
	home, _ := os.UserHomeDir()
	return &IntegrityConfig{
		CriticalPaths: []string{"/etc/shadow", "/etc/passwd", "/etc/sudoers"},
		CriticalGlobs: []string{"/etc/sudoers.d/*"},
		WarningPaths: []string{
			"/etc/ssh/sshd_config",
			filepath.Join(home, ".ssh", "authorized_keys"),
			"/etc/crontab",
		},
		DebouncePolls:     2,
		Cooldown:          30 * time.Minute,
		CorrelationWindow: 600 * time.Second,
		PollInterval:      10 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *IntegrityConfig) SetDefaults() {
	d := DefaultIntegrityConfig()
	if c.CriticalPaths == nil {
		c.CriticalPaths = d.CriticalPaths
	}
	if c.CriticalGlobs == nil {
		c.CriticalGlobs = d.CriticalGlobs
	}
	if c.WarningPaths == nil {
		c.WarningPaths = d.WarningPaths
	}
	if c.DebouncePolls == 0 {
		c.DebouncePolls = d.DebouncePolls
	}
	if c.Cooldown == 0 {
		c.Cooldown = d.Cooldown
	}
	if c.CorrelationWindow == 0 {
		c.CorrelationWindow = d.CorrelationWindow
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

type fileState struct {
	current  string
	debounce *guard.Debounce
	lastEmit time.Time
}

// IntegrityDetector (SEC-05) fingerprints a fixed set of sensitive files
// each poll. Content hash when readable, metadata fingerprint otherwise,
// so permission-restricted files are still covered.
type IntegrityDetector struct {
	*BaseDetector
	cfg    *IntegrityConfig
	logger *zap.Logger
	flags  FlagReader
	events EventReader

	// pkgManagerActive is injectable for tests; defaults to a pgrep scan.
	pkgManagerActive func(ctx context.Context) bool

	state map[string]*fileState
}

// NewIntegrityDetector builds SEC-05. flags and events must not be nil.
func NewIntegrityDetector(cfg *IntegrityConfig, flags FlagReader, events EventReader) (*IntegrityDetector, error) {
	if cfg == nil {
		cfg = DefaultIntegrityConfig()
	}
	cfg.SetDefaults()
	if flags == nil {
		return nil, fmt.Errorf("flag reader is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event reader is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrityDetector{
		BaseDetector:     NewBaseDetector(domain.CodeFileIntegrity),
		cfg:              cfg,
		logger:           logger.Named("sec05"),
		flags:            flags,
		events:           events,
		pkgManagerActive: pkgManagerRunning,
		state:            make(map[string]*fileState),
	}, nil
}

// Interval returns the poll period.
func (d *IntegrityDetector) Interval() time.Duration { return d.cfg.PollInterval }

// Fingerprint hashes a file's content, falling back to a stat-based
// fingerprint when the content is unreadable.
func Fingerprint(path string) (string, bool) {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err == nil {
			return "SHA256:" + hex.EncodeToString(h.Sum(nil)), true
		}
	}

	st, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	uid, gid := -1, -1
	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		uid, gid = int(sys.Uid), int(sys.Gid)
	}
	return fmt.Sprintf("STAT:mtime_ns=%d;size=%d;mode=%o;uid=%d;gid=%d",
		st.ModTime().UnixNano(), st.Size(), st.Mode(), uid, gid), true
}

// pkgManagerRunning reports whether a package manager process is active,
// so routine update churn can be downgraded.
func pkgManagerRunning(ctx context.Context) bool {
	for _, name := range []string{"apt", "apt-get", "dpkg", "unattended-upgrades", "apt.systemd.daily"} {
		if err := exec.CommandContext(ctx, "pgrep", "-x", name).Run(); err == nil {
			return true
		}
	}
	return false
}

// watchSet expands globs and drops missing warning paths; critical paths
// stay listed even when stat fails so their disappearance is observable
// through fingerprint changes.
func (d *IntegrityDetector) watchSet() (critical, warning []string) {
	seen := make(map[string]struct{})
	add := func(list *[]string, p string) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		*list = append(*list, p)
	}

	for _, p := range d.cfg.CriticalPaths {
		add(&critical, p)
	}
	for _, g := range d.cfg.CriticalGlobs {
		matches, _ := filepath.Glob(g)
		for _, p := range matches {
			if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
				add(&critical, p)
			}
		}
	}
	for _, p := range d.cfg.WarningPaths {
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			add(&warning, p)
		}
	}
	return critical, warning
}

func (d *IntegrityDetector) maintenanceActive(ctx context.Context) bool {
	f, err := d.flags.GetFlag(ctx, store.FlagMaintenance)
	if err != nil {
		d.RecordError(err)
		return false
	}
	return f != nil
}

// recentCredentialActivity reports whether SEC-02 or SEC-03 fired a
// WARNING or CRITICAL inside the correlation window.
func (d *IntegrityDetector) recentCredentialActivity(ctx context.Context, now time.Time) bool {
	events, err := d.events.ListEvents(ctx, 50)
	if err != nil {
		d.RecordError(err)
		return false
	}
	for _, e := range events {
		if now.Sub(e.Timestamp) > d.cfg.CorrelationWindow {
			continue
		}
		if e.Code != domain.CodeSSHSuccessAfter && e.Code != domain.CodeSudoActivity {
			continue
		}
		if e.Severity == domain.SeverityWarning || e.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

// Poll fingerprints the watch set and reports accepted changes.
func (d *IntegrityDetector) Poll(ctx context.Context, now time.Time) []domain.Finding {
	d.RecordPoll()

	critical, warning := d.watchSet()
	watch := append(append([]string{}, critical...), warning...)
	criticalSet := make(map[string]struct{}, len(critical))
	for _, p := range critical {
		criticalSet[p] = struct{}{}
	}

	maint := d.maintenanceActive(ctx)
	pkgActive := d.pkgManagerActive(ctx)
	escalate := d.recentCredentialActivity(ctx, now)

	var out []domain.Finding
	for _, path := range watch {
		fp, ok := Fingerprint(path)

		st, tracked := d.state[path]
		if !tracked {
			// First observation establishes the baseline silently.
			d.state[path] = &fileState{current: fp, debounce: guard.NewDebounce(d.cfg.DebouncePolls)}
			continue
		}

		if !ok || st.current == "" {
			st.current = fp
			st.debounce.Reset()
			continue
		}
		if fp == st.current {
			st.debounce.Reset()
			continue
		}

		if !st.debounce.Observe(fp) {
			continue
		}
		st.debounce.Reset()

		// Change accepted; cooldown still commits the new baseline so the
		// same write is not re-reported when the cooldown lapses.
		if now.Sub(st.lastEmit) < d.cfg.Cooldown {
			st.current = fp
			continue
		}

		_, isCritical := criticalSet[path]
		base := domain.SeverityWarning
		if isCritical {
			base = domain.SeverityCritical
		}

		sev := base
		var tags []string
		if base == domain.SeverityWarning {
			if maint {
				sev = domain.SeverityInfo
				tags = append(tags, "MAINT")
			}
			if pkgActive {
				sev = domain.SeverityInfo
				tags = append(tags, "UPDATE")
			}
			if escalate {
				sev = domain.SeverityCritical
				tags = append(tags, "ESCALATED")
			}
		}

		var msg string
		switch {
		case sev == domain.SeverityInfo && len(tags) > 0:
			msg = fmt.Sprintf("File changed during maintenance/update: %s", path)
		case sev == domain.SeverityCritical:
			msg = fmt.Sprintf("Critical file modified: %s", path)
		default:
			msg = fmt.Sprintf("Monitored file modified: %s", path)
		}
		if len(tags) > 0 {
			msg += " [" + strings.Join(tags, ",") + "]"
		}
		msg += fmt.Sprintf(" (old=%s new=%s)", shortFingerprint(st.current), shortFingerprint(fp))

		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     d.Code(),
			Severity: sev,
			Entity:   path,
			Message:  msg,
			Details: map[string]any{
				"path": path,
				"old":  st.current,
				"new":  fp,
				"tags": tags,
			},
		})

		st.current = fp
		st.lastEmit = now
	}
	return out
}
