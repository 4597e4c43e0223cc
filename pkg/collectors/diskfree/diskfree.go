// Package diskfree lists mounted filesystems with their usage, filtering
// out pseudo and ephemeral mounts.
package diskfree

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Pseudo/ephemeral filesystem types that never matter for capacity alerts.
var ignoredFSTypes = map[string]struct{}{
	"tmpfs":    {},
	"devtmpfs": {},
	"squashfs": {},
	"overlay":  {},
	"ramfs":    {},
	"proc":     {},
	"sysfs":    {},
	"cgroup2":  {},
}

// MountUsage is the capacity state of one mount point.
type MountUsage struct {
	Mount      string
	FSType     string
	TotalBytes uint64
	UsedBytes  uint64
	UsedPct    int
}

// Sampler lists mount usage. The mounts table path and statfs function are
// injectable for tests.
type Sampler struct {
	mountsPath string
	statfs     func(path string, buf *unix.Statfs_t) error
}

// NewSampler reads the real /proc/mounts.
func NewSampler() *Sampler {
	return &Sampler{mountsPath: "/proc/mounts", statfs: unix.Statfs}
}

// NewSamplerWith builds a sampler with injected inputs, for tests.
func NewSamplerWith(mountsPath string, statfs func(string, *unix.Statfs_t) error) *Sampler {
	return &Sampler{mountsPath: mountsPath, statfs: statfs}
}

// List returns usable mounts with at least minTotalBytes capacity, root
// first and then alphabetical.
func (s *Sampler) List(minTotalBytes uint64) ([]MountUsage, error) {
	f, err := os.Open(s.mountsPath)
	if err != nil {
		return nil, fmt.Errorf("read mounts table: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []MountUsage

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		mount, fstype := fields[1], fields[2]

		if _, dup := seen[mount]; dup {
			continue
		}
		seen[mount] = struct{}{}

		if _, skip := ignoredFSTypes[fstype]; skip {
			continue
		}

		var st unix.Statfs_t
		if err := s.statfs(mount, &st); err != nil {
			continue
		}

		total := uint64(st.Frsize) * st.Blocks
		avail := uint64(st.Frsize) * st.Bavail
		if total < minTotalBytes {
			continue
		}
		used := total - avail
		if avail > total {
			used = 0
		}
		pct := 0
		if total > 0 {
			pct = int((used*100 + total/2) / total)
		}

		out = append(out, MountUsage{
			Mount:      mount,
			FSType:     fstype,
			TotalBytes: total,
			UsedBytes:  used,
			UsedPct:    pct,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mounts table: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if (out[i].Mount == "/") != (out[j].Mount == "/") {
			return out[i].Mount == "/"
		}
		return out[i].Mount < out[j].Mount
	})
	return out, nil
}

// FormatGB renders a byte count as gigabytes for messages.
func FormatGB(n uint64) string {
	return fmt.Sprintf("%.1fGB", float64(n)/(1<<30))
}
