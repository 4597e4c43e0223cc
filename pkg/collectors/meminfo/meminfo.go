// Package meminfo samples memory and swap state from /proc.
package meminfo

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one reading of the kernel memory counters. The pswpin/pswpout
// values are cumulative page counters since boot; rate derivation is the
// detector's job.
type Snapshot struct {
	Taken          time.Time
	MemTotalKB     int64
	MemAvailableKB int64
	SwapTotalKB    int64
	SwapFreeKB     int64
	PswpIn         int64
	PswpOut        int64
}

// Process is one entry of a top-RSS listing.
type Process struct {
	PID     int    `json:"pid"`
	Name    string `json:"name"`
	RSSKB   int64  `json:"rss_kb"`
	Cmdline string `json:"cmdline"`
}

// Sampler reads /proc/meminfo and /proc/vmstat. procRoot is overridable for
// tests.
type Sampler struct {
	procRoot string
}

// NewSampler samples the real /proc.
func NewSampler() *Sampler { return &Sampler{procRoot: "/proc"} }

// NewSamplerAt samples an alternate proc root, for tests.
func NewSamplerAt(root string) *Sampler { return &Sampler{procRoot: root} }

// Read returns one snapshot. Missing counters read as zero; only a fully
// unreadable meminfo is an error.
func (s *Sampler) Read() (Snapshot, error) {
	snap := Snapshot{Taken: time.Now()}

	mi, err := parseKVFile(filepath.Join(s.procRoot, "meminfo"), ":")
	if err != nil {
		return snap, err
	}
	snap.MemTotalKB = mi["MemTotal"]
	snap.MemAvailableKB = mi["MemAvailable"]
	snap.SwapTotalKB = mi["SwapTotal"]
	snap.SwapFreeKB = mi["SwapFree"]

	if vm, err := parseKVFile(filepath.Join(s.procRoot, "vmstat"), ""); err == nil {
		snap.PswpIn = vm["pswpin"]
		snap.PswpOut = vm["pswpout"]
	}

	return snap, nil
}

// TopRSS returns the processes with the largest resident set, best effort.
func (s *Sampler) TopRSS(limit int) []Process {
	if limit < 1 {
		limit = 1
	}
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil
	}

	var procs []Process
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		name, rss := readStatus(filepath.Join(s.procRoot, e.Name(), "status"))
		if rss <= 0 {
			continue
		}
		procs = append(procs, Process{
			PID:     pid,
			Name:    name,
			RSSKB:   rss,
			Cmdline: readCmdline(filepath.Join(s.procRoot, e.Name(), "cmdline")),
		})
	}

	sort.Slice(procs, func(i, j int) bool { return procs[i].RSSKB > procs[j].RSSKB })
	if len(procs) > limit {
		procs = procs[:limit]
	}
	return procs
}

// parseKVFile reads "key<sep> value ..." lines into int64 values. With an
// empty sep the line is split on whitespace (vmstat format).
func parseKVFile(path, sep string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]int64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		var key, rest string
		if sep != "" {
			k, r, ok := strings.Cut(line, sep)
			if !ok {
				continue
			}
			key, rest = k, r
		} else {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			key, rest = fields[0], fields[1]
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			out[strings.TrimSpace(key)] = v
		}
	}
	return out, sc.Err()
}

func readStatus(path string) (string, int64) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0
	}
	defer f.Close()

	var name string
	var rss int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "Name:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "VmRSS:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				rss, _ = strconv.ParseInt(fields[1], 10, 64)
			}
		}
	}
	return name, rss
}

func readCmdline(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(string(raw), "\x00", " "))
}
