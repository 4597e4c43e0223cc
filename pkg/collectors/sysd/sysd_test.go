package sysd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleShow = `Id=ssh.service
LoadState=loaded
ActiveState=active
SubState=running
UnitFileState=enabled
Result=success
ExecMainStatus=0
NRestarts=0

Id=cron.service
LoadState=loaded
ActiveState=failed
SubState=failed
UnitFileState=enabled
Result=exit-code
ExecMainStatus=1
NRestarts=3

Id=ghost.service
LoadState=not-found
ActiveState=inactive
SubState=dead
UnitFileState=
Result=
ExecMainStatus=0
NRestarts=0
`

func fixed(out string) func(context.Context, []string) (string, error) {
	return func(context.Context, []string) (string, error) { return out, nil }
}

func TestReadStates(t *testing.T) {
	s := NewSamplerWith(fixed(sampleShow))
	states, err := s.ReadStates(context.Background(), []string{"ssh.service", "cron.service", "ghost.service"})
	require.NoError(t, err)
	require.Len(t, states, 3)

	ssh := states["ssh.service"]
	assert.Equal(t, "active", ssh.Active)
	assert.Equal(t, "running", ssh.Sub)
	assert.True(t, ssh.Enabled())

	cron := states["cron.service"]
	assert.Equal(t, "failed", cron.Active)
	assert.Equal(t, 3, cron.NRestarts)
	assert.Equal(t, 1, cron.ExecMainStatus)
}

func TestProbeExisting(t *testing.T) {
	s := NewSamplerWith(fixed(sampleShow))
	existing := s.ProbeExisting(context.Background(), []string{"ssh.service", "ghost.service", "cron.service"})
	assert.Equal(t, []string{"ssh.service", "cron.service"}, existing)
}

func TestEnabledStates(t *testing.T) {
	assert.True(t, UnitState{UnitFileState: "static"}.Enabled())
	assert.True(t, UnitState{UnitFileState: "enabled-runtime"}.Enabled())
	assert.False(t, UnitState{UnitFileState: "disabled"}.Enabled())
	assert.False(t, UnitState{UnitFileState: ""}.Enabled())
}
