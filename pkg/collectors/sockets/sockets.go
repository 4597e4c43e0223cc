// Package sockets snapshots the listening-socket table via ss(8).
package sockets

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/vigil-sh/vigil/pkg/netscope"
)

// Key identifies a listening service independent of the exact bound host:
// process, port, protocol and bind scope.
type Key struct {
	Process  string
	Port     int
	Protocol string
	Bind     netscope.Scope
}

// String renders the key for ledger fingerprints.
func (k Key) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", k.Process, k.Port, k.Protocol, k.Bind)
}

// Snapshot maps each listening key to the most representative bound host
// seen for it (wildcard binds win over specific addresses).
type Snapshot map[Key]string

var reProcess = regexp.MustCompile(`users:\(\("([^"]+)"`)

// Sampler shells out to ss. The command runner is injectable for tests.
type Sampler struct {
	run func(ctx context.Context) (string, error)
}

// NewSampler snapshots via `ss -H -lntup`.
func NewSampler() *Sampler {
	return &Sampler{run: func(ctx context.Context) (string, error) {
		out, err := exec.CommandContext(ctx, "ss", "-H", "-lntup").Output()
		if err != nil {
			return "", fmt.Errorf("sockets: run ss: %w", err)
		}
		return string(out), nil
	}}
}

// NewSamplerWith builds a sampler over a fixed output source, for tests.
func NewSamplerWith(run func(ctx context.Context) (string, error)) *Sampler {
	return &Sampler{run: run}
}

// Snapshot returns the current listening table. Unparseable lines are
// skipped silently.
func (s *Sampler) Snapshot(ctx context.Context) (Snapshot, error) {
	out, err := s.run(ctx)
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		proto := strings.ToLower(fields[0])
		if proto != "tcp" && proto != "udp" {
			continue
		}

		host, port, ok := splitHostPort(fields[4])
		if !ok {
			continue
		}

		process := "unknown"
		if m := reProcess.FindStringSubmatch(line); m != nil {
			process = m[1]
		}

		k := Key{Process: process, Port: port, Protocol: proto, Bind: netscope.ClassifyBind(host)}
		prev, exists := snap[k]
		if !exists || (isWildcard(host) && !isWildcard(prev)) {
			snap[k] = host
		}
	}
	return snap, nil
}

// splitHostPort handles ss local-address forms: "127.0.0.1:631", "*:22",
// "[::]:22".
func splitHostPort(local string) (string, int, bool) {
	var host, portStr string
	if strings.HasPrefix(local, "[") {
		end := strings.LastIndex(local, "]")
		if end < 0 || end+1 >= len(local) || local[end+1] != ':' {
			return "", 0, false
		}
		host = local[1:end]
		portStr = local[end+2:]
	} else {
		i := strings.LastIndex(local, ":")
		if i < 0 {
			return "", 0, false
		}
		host = local[:i]
		portStr = local[i+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}
	return host, port, true
}

func isWildcard(host string) bool {
	switch strings.ToLower(host) {
	case "*", "0.0.0.0", "::":
		return true
	}
	return false
}
