// Package thermal samples the CPU temperature from sysfs thermal zones.
package thermal

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoSensor means no plausible CPU thermal zone exists on this host. The
// temperature poller skips its cycle on this error instead of crashing.
var ErrNoSensor = errors.New("thermal: no usable sensor")

// Sampler reads the CPU temperature, caching the best zone after the first
// successful pick.
type Sampler struct {
	base   string
	cached string
}

// NewSampler creates a sampler over /sys/class/thermal.
func NewSampler() *Sampler {
	return &Sampler{base: "/sys/class/thermal"}
}

// NewSamplerAt creates a sampler over an alternate sysfs root, for tests.
func NewSamplerAt(base string) *Sampler {
	return &Sampler{base: base}
}

// ReadCelsius returns the current CPU temperature in °C.
func (s *Sampler) ReadCelsius() (float64, error) {
	if s.cached == "" {
		path, err := s.pickZone()
		if err != nil {
			return 0, err
		}
		s.cached = path
	}

	c, err := readZone(s.cached)
	if err != nil {
		// The cached zone may have vanished (module unload, suspend).
		s.cached = ""
		return 0, err
	}
	return c, nil
}

// pickZone scores thermal zones by type name, preferring package/CPU
// sensors over board-level ones like acpitz.
func (s *Sampler) pickZone() (string, error) {
	zones, err := filepath.Glob(filepath.Join(s.base, "thermal_zone*"))
	if err != nil || len(zones) == 0 {
		return "", ErrNoSensor
	}
	sort.Strings(zones)

	best := ""
	bestScore := -1
	for _, z := range zones {
		tempPath := filepath.Join(z, "temp")
		typeName := ""
		if raw, err := os.ReadFile(filepath.Join(z, "type")); err == nil {
			typeName = strings.ToLower(strings.TrimSpace(string(raw)))
		}

		score := 0
		switch {
		case strings.Contains(typeName, "pkg") || strings.Contains(typeName, "package"):
			score += 50
		case strings.Contains(typeName, "cpu"):
			score += 40
		case strings.Contains(typeName, "soc"):
			score += 25
		case strings.Contains(typeName, "acpitz"):
			score += 5
		}

		c, err := readZone(tempPath)
		if err != nil {
			continue
		}
		if c >= 0 && c <= 120 {
			score += 10
		} else {
			score -= 50
		}

		if score > bestScore {
			bestScore = score
			best = tempPath
		}
	}

	if best == "" {
		return "", ErrNoSensor
	}
	return best, nil
}

func readZone(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, ErrNoSensor
	}

	// sysfs usually reports millidegrees.
	c := float64(v)
	if v > 1000 {
		c = float64(v) / 1000.0
	}
	if c < 0 || c > 120 {
		return 0, ErrNoSensor
	}
	return c, nil
}
