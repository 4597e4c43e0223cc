package sockets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sh/vigil/pkg/netscope"
)

const sampleSS = `tcp   LISTEN 0      4096       127.0.0.1:631        0.0.0.0:*    users:(("cupsd",pid=900,fd=7))
tcp   LISTEN 0      128          0.0.0.0:22         0.0.0.0:*    users:(("sshd",pid=800,fd=3))
tcp   LISTEN 0      128             [::]:22            [::]:*    users:(("sshd",pid=800,fd=4))
udp   UNCONN 0      0          192.168.1.5:5353       0.0.0.0:*    users:(("avahi-daemon",pid=700,fd=12))
tcp   LISTEN 0      511          0.0.0.0:3389       0.0.0.0:*
garbage line
`

func fixedOutput(out string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return out, nil }
}

func TestSnapshot(t *testing.T) {
	s := NewSamplerWith(fixedOutput(sampleSS))
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", snap[Key{Process: "cupsd", Port: 631, Protocol: "tcp", Bind: netscope.Local}])
	assert.Equal(t, "0.0.0.0", snap[Key{Process: "sshd", Port: 22, Protocol: "tcp", Bind: netscope.Global}])
	assert.Equal(t, "192.168.1.5", snap[Key{Process: "avahi-daemon", Port: 5353, Protocol: "udp", Bind: netscope.LAN}])
	// No process info available.
	assert.Equal(t, "0.0.0.0", snap[Key{Process: "unknown", Port: 3389, Protocol: "tcp", Bind: netscope.Global}])
}

func TestKeyString(t *testing.T) {
	k := Key{Process: "sshd", Port: 22, Protocol: "tcp", Bind: netscope.Global}
	assert.Equal(t, "sshd|22|tcp|GLOBAL", k.String())
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
		ok   bool
	}{
		{"127.0.0.1:631", "127.0.0.1", 631, true},
		{"*:22", "*", 22, true},
		{"[::]:22", "::", 22, true},
		{"[fe80::1]:8080", "fe80::1", 8080, true},
		{"no-port", "", 0, false},
		{"host:notaport", "", 0, false},
	}
	for _, tt := range tests {
		host, port, ok := splitHostPort(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.host, host, tt.in)
			assert.Equal(t, tt.port, port, tt.in)
		}
	}
}
