package detectors

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sh/vigil/pkg/collectors/sockets"
	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/netscope"
)

func ssLine(proto, addr, proc string) string {
	return proto + ` LISTEN 0 128 ` + addr + ` 0.0.0.0:* users:(("` + proc + `",pid=100,fd=3))`
}

// scriptedSockets serves a mutable ss output for the sampler.
type scriptedSockets struct {
	lines []string
}

func (s *scriptedSockets) sampler() *sockets.Sampler {
	return sockets.NewSamplerWith(func(context.Context) (string, error) {
		return strings.Join(s.lines, "\n") + "\n", nil
	})
}

func newListenerForTest(t *testing.T, src *scriptedSockets, trust []TrustEntry) (*ListenerDetector, *fakeLedger) {
	t.Helper()
	ledger := newFakeLedger()
	d, err := NewListenerDetector(&ListenerConfig{Trust: trust}, src.sampler(), ledger)
	require.NoError(t, err)
	return d, ledger
}

func TestListenerBaselineIsSilent(t *testing.T) {
	src := &scriptedSockets{lines: []string{
		ssLine("tcp", "127.0.0.1:631", "cupsd"),
		ssLine("tcp", "0.0.0.0:22", "sshd"),
	}}
	d, _ := newListenerForTest(t, src, nil)

	assert.Empty(t, d.Poll(context.Background(), t0))
	// Pre-existing sockets never alert, even on later polls.
	assert.Empty(t, d.Poll(context.Background(), t0.Add(2*time.Minute)))
}

// A new global listener on a sensitive port becomes CRITICAL once it has
// been present continuously for the stability window.
func TestListenerSensitiveGlobalPort(t *testing.T) {
	src := &scriptedSockets{lines: []string{ssLine("tcp", "127.0.0.1:631", "cupsd")}}
	d, _ := newListenerForTest(t, src, nil)

	ctx := context.Background()
	require.Empty(t, d.Poll(ctx, t0))

	src.lines = append(src.lines, ssLine("tcp", "0.0.0.0:3389", "xrdp"))
	assert.Empty(t, d.Poll(ctx, t0.Add(30*time.Second)), "stability timer just started")
	assert.Empty(t, d.Poll(ctx, t0.Add(60*time.Second)), "not yet stable for 60s")

	out := d.Poll(ctx, t0.Add(95*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityCritical, out[0].Severity)
	assert.Contains(t, out[0].Message, "xrdp")
	assert.Equal(t, 3389, out[0].Details["port"])

	// Stable and recorded: no re-alert on subsequent polls.
	assert.Empty(t, d.Poll(ctx, t0.Add(2*time.Minute)))
}

func TestListenerEphemeralSocketNeverAlerts(t *testing.T) {
	src := &scriptedSockets{lines: []string{ssLine("tcp", "0.0.0.0:22", "sshd")}}
	d, _ := newListenerForTest(t, src, nil)

	ctx := context.Background()
	require.Empty(t, d.Poll(ctx, t0))

	src.lines = append(src.lines, ssLine("tcp", "0.0.0.0:8888", "nc"))
	assert.Empty(t, d.Poll(ctx, t0.Add(30*time.Second)))

	// Gone before stabilizing: the timer is dropped.
	src.lines = src.lines[:1]
	assert.Empty(t, d.Poll(ctx, t0.Add(60*time.Second)))

	// Back again: the stability clock starts over.
	src.lines = append(src.lines, ssLine("tcp", "0.0.0.0:8888", "nc"))
	assert.Empty(t, d.Poll(ctx, t0.Add(90*time.Second)))
	assert.Empty(t, d.Poll(ctx, t0.Add(2*time.Minute)))
	out := d.Poll(ctx, t0.Add(3*time.Minute))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityWarning, out[0].Severity, "8888 is not in the sensitive set")
}

func TestListenerSeverityByScope(t *testing.T) {
	assert.Equal(t, domain.SeverityInfo, listenerSeverity(netscope.Local, 8080))
	assert.Equal(t, domain.SeverityWarning, listenerSeverity(netscope.LAN, 22))
	assert.Equal(t, domain.SeverityWarning, listenerSeverity(netscope.Global, 8080))
	assert.Equal(t, domain.SeverityCritical, listenerSeverity(netscope.Global, 22))
}

func TestListenerTrustSuppressesAndSkipsLedger(t *testing.T) {
	src := &scriptedSockets{lines: []string{ssLine("tcp", "127.0.0.1:631", "cupsd")}}
	trust := []TrustEntry{{Process: "sshd", Port: 22, Bind: netscope.Global}}
	d, ledger := newListenerForTest(t, src, trust)

	ctx := context.Background()
	require.Empty(t, d.Poll(ctx, t0))

	src.lines = append(src.lines, ssLine("tcp", "0.0.0.0:22", "sshd"))
	d.Poll(ctx, t0.Add(30*time.Second))
	out := d.Poll(ctx, t0.Add(95*time.Second))
	assert.Empty(t, out)
	assert.Empty(t, ledger.keys, "trusted listeners never touch the ledger")
}

func TestListenerDurableDedup(t *testing.T) {
	src := &scriptedSockets{lines: []string{ssLine("tcp", "127.0.0.1:631", "cupsd")}}
	ledger := newFakeLedger()
	// Seed the ledger as if the listener alerted in an earlier run.
	key := sockets.Key{Process: "xrdp", Port: 3389, Protocol: "tcp", Bind: netscope.Global}
	ledger.keys[firstSeenPrefixListener+key.String()] = t0

	d, err := NewListenerDetector(nil, src.sampler(), ledger)
	require.NoError(t, err)

	ctx := context.Background()
	require.Empty(t, d.Poll(ctx, t0))
	src.lines = append(src.lines, ssLine("tcp", "0.0.0.0:3389", "xrdp"))
	d.Poll(ctx, t0.Add(30*time.Second))
	assert.Empty(t, d.Poll(ctx, t0.Add(95*time.Second)), "already in the durable ledger")
}
