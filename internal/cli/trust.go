package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vigil-sh/vigil/pkg/config"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage the listener allowlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return trustListCmd.RunE(cmd, args)
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured trusted listeners",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Trust) == 0 {
			fmt.Println("no trusted listeners configured")
			return nil
		}
		for _, t := range cfg.Trust {
			fmt.Printf("%-16s port %-5d bind %s\n", t.Process, t.Port, t.Bind)
		}
		return nil
	},
}

var trustAddCmd = &cobra.Command{
	Use:   "add <process> <port> <LOCAL|LAN|GLOBAL>",
	Short: "Allowlist an expected listener and persist it to the config file",
	Args:  cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		entry := config.TrustedListener{
			Process: args[0],
			Port:    port,
			Bind:    strings.ToUpper(args[2]),
		}

		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		for _, t := range cfg.Trust {
			if t == entry {
				fmt.Println("already trusted")
				return nil
			}
		}
		cfg.Trust = append(cfg.Trust, entry)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write config %s: %w", path, err)
		}
		fmt.Printf("trusted %s on port %d (%s)\n", entry.Process, entry.Port, entry.Bind)
		return nil
	},
}

func init() {
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustAddCmd)
}
