package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigPath is where the agent looks for its YAML config:
// $XDG_CONFIG_HOME/vigil/config.yaml, defaulting to ~/.config.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "/etc/vigil/config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "vigil", "config.yaml")
}

// DefaultDBPath is the event database location:
// $XDG_DATA_HOME/vigil/vigil.db, defaulting to ~/.local/share.
func DefaultDBPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "/var/lib/vigil/vigil.db"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "vigil", "vigil.db")
}
