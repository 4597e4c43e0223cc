package detectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sh/vigil/pkg/collectors/meminfo"
	"github.com/vigil-sh/vigil/pkg/domain"
)

// memRig writes fake /proc files the sampler reads.
type memRig struct {
	t    *testing.T
	root string
}

func newMemRig(t *testing.T) (*memRig, *meminfo.Sampler) {
	t.Helper()
	root := t.TempDir()
	rig := &memRig{t: t, root: root}
	rig.setSwap(0, 0, 0, 0)
	return rig, meminfo.NewSamplerAt(root)
}

// setSwap writes the counters: availPct of a fixed 1GB total, plus swap
// totals and the cumulative page counters.
func (r *memRig) set(availPct int) {
	r.setSwap(availPct, 0, 0, 0)
}

func (r *memRig) setSwap(availPct int, swapUsedPct int, pswpin, pswpout int64) {
	const totalKB = 1048576
	availKB := totalKB * availPct / 100
	swapTotalKB := int64(0)
	swapFreeKB := int64(0)
	if swapUsedPct > 0 {
		swapTotalKB = totalKB
		swapFreeKB = swapTotalKB * int64(100-swapUsedPct) / 100
	}
	mi := fmt.Sprintf("MemTotal: %d kB\nMemAvailable: %d kB\nSwapTotal: %d kB\nSwapFree: %d kB\n",
		totalKB, availKB, swapTotalKB, swapFreeKB)
	require.NoError(r.t, os.WriteFile(filepath.Join(r.root, "meminfo"), []byte(mi), 0o644))

	vm := fmt.Sprintf("pswpin %d\npswpout %d\n", pswpin, pswpout)
	require.NoError(r.t, os.WriteFile(filepath.Join(r.root, "vmstat"), []byte(vm), 0o644))
}

// MemAvailable at 4% for 2 consecutive samples yields one CRITICAL, no
// re-fire while steady, and an INFO "cleared" only after 3 OK samples.
func TestMemoryPressureEpisode(t *testing.T) {
	rig, sampler := newMemRig(t)
	d, err := NewMemoryPressureDetector(nil, sampler)
	require.NoError(t, err)

	ctx := context.Background()
	rig.set(50)
	assert.Empty(t, d.Poll(ctx, t0), "first sample is the rate baseline")

	rig.set(4)
	assert.Empty(t, d.Poll(ctx, t0.Add(10*time.Second)), "one critical sample is not enough")

	out := d.Poll(ctx, t0.Add(20*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityCritical, out[0].Severity)
	assert.Equal(t, "memory", out[0].Entity)

	assert.Empty(t, d.Poll(ctx, t0.Add(30*time.Second)), "steady critical: no re-fire")

	rig.set(50)
	assert.Empty(t, d.Poll(ctx, t0.Add(40*time.Second)))
	assert.Empty(t, d.Poll(ctx, t0.Add(50*time.Second)))
	out = d.Poll(ctx, t0.Add(60*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityInfo, out[0].Severity)
	assert.Contains(t, out[0].Message, "cleared")
}

func TestMemoryPressureWarningEntry(t *testing.T) {
	rig, sampler := newMemRig(t)
	d, err := NewMemoryPressureDetector(nil, sampler)
	require.NoError(t, err)

	ctx := context.Background()
	rig.set(50)
	d.Poll(ctx, t0)

	rig.set(8)
	d.Poll(ctx, t0.Add(10*time.Second))
	out := d.Poll(ctx, t0.Add(20*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityWarning, out[0].Severity)
}

// Easing from CRITICAL down to WARNING stays silent; only the full return
// to OK emits.
func TestMemoryPressureNoWarningOnDeescalation(t *testing.T) {
	rig, sampler := newMemRig(t)
	d, err := NewMemoryPressureDetector(nil, sampler)
	require.NoError(t, err)

	ctx := context.Background()
	rig.set(50)
	d.Poll(ctx, t0)
	rig.set(4)
	d.Poll(ctx, t0.Add(10*time.Second))
	require.Len(t, d.Poll(ctx, t0.Add(20*time.Second)), 1)

	rig.set(8)
	assert.Empty(t, d.Poll(ctx, t0.Add(30*time.Second)))
	assert.Empty(t, d.Poll(ctx, t0.Add(40*time.Second)))
	assert.Empty(t, d.Poll(ctx, t0.Add(50*time.Second)))
}

func TestMemoryPressureMinEmitInterval(t *testing.T) {
	rig, sampler := newMemRig(t)
	d, err := NewMemoryPressureDetector(nil, sampler)
	require.NoError(t, err)

	ctx := context.Background()
	rig.set(50)
	d.Poll(ctx, t0)
	rig.set(4)
	d.Poll(ctx, t0.Add(time.Second))
	require.Len(t, d.Poll(ctx, t0.Add(2*time.Second)), 1)

	// Recovery completes 3 OK polls only 6s after the CRITICAL emission:
	// held back by the 15s minimum inter-emission interval.
	rig.set(50)
	d.Poll(ctx, t0.Add(4*time.Second))
	d.Poll(ctx, t0.Add(6*time.Second))
	assert.Empty(t, d.Poll(ctx, t0.Add(8*time.Second)))

	// Past the interval the cleared event goes out.
	out := d.Poll(ctx, t0.Add(18*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityInfo, out[0].Severity)
}

func TestMemoryWorstSignalWins(t *testing.T) {
	d, err := NewMemoryPressureDetector(nil, meminfo.NewSamplerAt(t.TempDir()))
	require.NoError(t, err)

	cases := []struct {
		m    memoryMetrics
		want domain.Severity
	}{
		{memoryMetrics{memAvailPct: 50}, ""},
		{memoryMetrics{memAvailPct: 9}, domain.SeverityWarning},
		{memoryMetrics{memAvailPct: 4}, domain.SeverityCritical},
		{memoryMetrics{memAvailPct: 50, swapUsedPct: 75}, domain.SeverityWarning},
		{memoryMetrics{memAvailPct: 50, swapUsedPct: 95}, domain.SeverityCritical},
		{memoryMetrics{memAvailPct: 50, swapOutPS: 300}, domain.SeverityWarning},
		{memoryMetrics{memAvailPct: 50, swapOutPS: 1500}, domain.SeverityCritical},
		// Worst of several signals decides.
		{memoryMetrics{memAvailPct: 9, swapOutPS: 1500}, domain.SeverityCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, d.decideLevel(c.m), "%+v", c.m)
	}
}

func TestMemorySwapRates(t *testing.T) {
	rig, sampler := newMemRig(t)
	d, err := NewMemoryPressureDetector(nil, sampler)
	require.NoError(t, err)

	ctx := context.Background()
	rig.setSwap(50, 10, 0, 0)
	d.Poll(ctx, t0)

	// The counter jumps by 100000 pages per read; with sub-second wall time
	// between reads the derived rate is far past the critical bound on both
	// consecutive polls.
	rig.setSwap(50, 10, 0, 100000)
	d.Poll(ctx, t0.Add(10*time.Second))
	rig.setSwap(50, 10, 0, 200000)
	out := d.Poll(ctx, t0.Add(20*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, domain.SeverityCritical, out[0].Severity)
}
