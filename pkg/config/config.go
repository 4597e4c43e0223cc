// Package config loads the agent configuration from YAML, layering file
// values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigil-sh/vigil/pkg/detectors"
	"github.com/vigil-sh/vigil/pkg/netscope"
)

// Duration is a time.Duration that unmarshals from YAML strings like "60s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogConfig controls the agent logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig points at the event database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AuthLogConfig points at the tailed authentication log.
type AuthLogConfig struct {
	Path         string   `yaml:"path"`
	PollInterval Duration `yaml:"poll_interval"`
}

// NotifyConfig controls desktop notifications.
type NotifyConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MinInterval Duration `yaml:"min_interval"`
}

// BruteForceConfig overrides SEC-01 thresholds.
type BruteForceConfig struct {
	Window       Duration `yaml:"window"`
	WarnAttempts int      `yaml:"warn_attempts"`
	CritAttempts int      `yaml:"crit_attempts"`
}

// DiskConfig overrides HEA-03 thresholds.
type DiskConfig struct {
	WarnPct     int `yaml:"warn_pct"`
	CritPct     int `yaml:"crit_pct"`
	Consecutive int `yaml:"consecutive"`
}

// IntervalsConfig sets each poller's cadence.
type IntervalsConfig struct {
	Temperature Duration `yaml:"temperature"`
	Disk        Duration `yaml:"disk"`
	Services    Duration `yaml:"services"`
	Memory      Duration `yaml:"memory"`
	Listeners   Duration `yaml:"listeners"`
	Integrity   Duration `yaml:"integrity"`
}

// TrustedListener allowlists an expected listening service for SEC-04.
type TrustedListener struct {
	Process string `yaml:"proc"`
	Port    int    `yaml:"port"`
	Bind    string `yaml:"bind"`
}

// Config is the full agent configuration.
type Config struct {
	Log        LogConfig         `yaml:"log"`
	Store      StoreConfig       `yaml:"store"`
	AuthLog    AuthLogConfig     `yaml:"authlog"`
	Notify     NotifyConfig      `yaml:"notify"`
	Intervals  IntervalsConfig   `yaml:"intervals"`
	BruteForce BruteForceConfig  `yaml:"brute_force"`
	Disk       DiskConfig        `yaml:"disk"`
	Trust      []TrustedListener `yaml:"trust"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "console"},
		Store:   StoreConfig{Path: DefaultDBPath()},
		AuthLog: AuthLogConfig{Path: "/var/log/auth.log", PollInterval: Duration(250 * time.Millisecond)},
		Notify:  NotifyConfig{Enabled: true, MinInterval: Duration(60 * time.Second)},
		Intervals: IntervalsConfig{
			Temperature: Duration(5 * time.Second),
			Disk:        Duration(30 * time.Second),
			Services:    Duration(15 * time.Second),
			Memory:      Duration(5 * time.Second),
			Listeners:   Duration(30 * time.Second),
			Integrity:   Duration(10 * time.Second),
		},
		BruteForce: BruteForceConfig{Window: Duration(60 * time.Second), WarnAttempts: 5, CritAttempts: 10},
		Disk:       DiskConfig{WarnPct: 85, CritPct: 95, Consecutive: 2},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults apply as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.BruteForce.CritAttempts < c.BruteForce.WarnAttempts {
		return fmt.Errorf("brute_force: crit_attempts below warn_attempts")
	}
	if c.Disk.CritPct < c.Disk.WarnPct {
		return fmt.Errorf("disk: crit_pct below warn_pct")
	}
	for _, t := range c.Trust {
		if t.Process == "" || t.Port < 1 || t.Port > 65535 {
			return fmt.Errorf("trust: entry %q/%d is invalid", t.Process, t.Port)
		}
		switch netscope.Scope(t.Bind) {
		case netscope.Local, netscope.LAN, netscope.Global:
		default:
			return fmt.Errorf("trust: unknown bind scope %q", t.Bind)
		}
	}
	return nil
}

// TrustEntries converts the allowlist into SEC-04 trust entries.
func (c *Config) TrustEntries() []detectors.TrustEntry {
	out := make([]detectors.TrustEntry, 0, len(c.Trust))
	for _, t := range c.Trust {
		out = append(out, detectors.TrustEntry{
			Process: t.Process,
			Port:    t.Port,
			Bind:    netscope.Scope(t.Bind),
		})
	}
	return out
}
