// Package cli implements the vigil command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/config"
	"github.com/vigil-sh/vigil/pkg/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Host security and health monitoring agent",
	Long: `Vigil watches a single host: it tails the authentication log and samples
kernel and service state, turning raw signals into classified, deduplicated
events with desktop notifications for criticals.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/vigil/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(muteCmd)
	rootCmd.AddCommand(unmuteCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(versionCmd)
}

func initViper() {
	viper.SetEnvPrefix("VIGIL")
	viper.AutomaticEnv()
}

// loadConfig reads the effective configuration.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// buildLogger constructs the agent logger from the config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Log.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = parsed
	return zcfg.Build()
}

// openStore opens the event database from the config.
func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	return store.Open(cfg.Store.Path, logger)
}

// setup loads config, logger and store for a subcommand.
func setup() (*config.Config, *zap.Logger, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, st, nil
}
