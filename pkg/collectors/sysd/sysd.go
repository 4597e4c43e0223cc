// Package sysd reads systemd unit state via systemctl show.
package sysd

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// UnitState is the parsed state of one unit.
type UnitState struct {
	Unit           string
	Load           string
	Active         string
	Sub            string
	UnitFileState  string
	Result         string
	ExecMainStatus int
	NRestarts      int
}

var enabledStates = map[string]struct{}{
	"enabled":         {},
	"enabled-runtime": {},
	"static":          {},
	"alias":           {},
	"generated":       {},
	"indirect":        {},
}

// Enabled reports whether the unit-file state counts as enabled.
func (u UnitState) Enabled() bool {
	_, ok := enabledStates[strings.ToLower(strings.TrimSpace(u.UnitFileState))]
	return ok
}

// Sampler queries systemctl. The runner is injectable for tests.
type Sampler struct {
	run func(ctx context.Context, args []string) (string, error)
}

// NewSampler queries the real systemctl.
func NewSampler() *Sampler {
	return &Sampler{run: func(ctx context.Context, args []string) (string, error) {
		out, err := exec.CommandContext(ctx, "systemctl", append([]string{"--no-pager", "--plain"}, args...)...).Output()
		// systemctl exits non-zero for missing units but still prints the
		// blocks it knows; keep whatever came out.
		if len(out) > 0 {
			return string(out), nil
		}
		return "", err
	}}
}

// NewSamplerWith builds a sampler over an injected runner, for tests.
func NewSamplerWith(run func(ctx context.Context, args []string) (string, error)) *Sampler {
	return &Sampler{run: run}
}

var showProps = []string{
	"Id", "LoadState", "ActiveState", "SubState",
	"UnitFileState", "Result", "ExecMainStatus", "NRestarts",
}

// ReadStates returns the state of each named unit that systemd knows about.
func (s *Sampler) ReadStates(ctx context.Context, units []string) (map[string]UnitState, error) {
	units = nonEmpty(units)
	if len(units) == 0 {
		return map[string]UnitState{}, nil
	}

	args := []string{"show"}
	for _, p := range showProps {
		args = append(args, "-p"+p)
	}
	args = append(args, units...)

	out, err := s.run(ctx, args)
	if err != nil {
		return nil, err
	}

	states := make(map[string]UnitState)
	for _, block := range strings.Split(out, "\n\n") {
		kv := make(map[string]string)
		for _, line := range strings.Split(block, "\n") {
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		unit := kv["Id"]
		if unit == "" {
			continue
		}
		states[unit] = UnitState{
			Unit:           unit,
			Load:           kv["LoadState"],
			Active:         kv["ActiveState"],
			Sub:            kv["SubState"],
			UnitFileState:  kv["UnitFileState"],
			Result:         kv["Result"],
			ExecMainStatus: atoiOr(kv["ExecMainStatus"], 0),
			NRestarts:      atoiOr(kv["NRestarts"], 0),
		}
	}
	return states, nil
}

// ProbeExisting filters candidates down to the units present on this host,
// in candidate order.
func (s *Sampler) ProbeExisting(ctx context.Context, candidates []string) []string {
	states, err := s.ReadStates(ctx, candidates)
	if err != nil {
		return nil
	}
	var out []string
	for _, c := range nonEmpty(candidates) {
		st, ok := states[c]
		if ok && !strings.EqualFold(st.Load, "not-found") {
			out = append(out, c)
		}
	}
	return out
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
