package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/collectors/authlog"
	"github.com/vigil-sh/vigil/pkg/collectors/diskfree"
	"github.com/vigil-sh/vigil/pkg/collectors/meminfo"
	"github.com/vigil-sh/vigil/pkg/collectors/sockets"
	"github.com/vigil-sh/vigil/pkg/collectors/sysd"
	"github.com/vigil-sh/vigil/pkg/collectors/thermal"
	"github.com/vigil-sh/vigil/pkg/config"
	"github.com/vigil-sh/vigil/pkg/detectors"
	"github.com/vigil-sh/vigil/pkg/monitor"
	"github.com/vigil-sh/vigil/pkg/notify"
	"github.com/vigil-sh/vigil/pkg/store"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the monitoring agent in the foreground",
	Long: `Starts all detectors and blocks until interrupted. Security detectors
consume the authentication log; health detectors poll kernel and systemd
state on their own intervals.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer st.Close()

	lineDetectors, pollers, err := buildDetectors(cfg, st, logger)
	if err != nil {
		return err
	}

	var notifier monitor.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.New(&notify.Config{
			MinInterval: cfg.Notify.MinInterval.Std(),
			Logger:      logger,
		})
	}

	tailer := authlog.NewTailer(cfg.AuthLog.Path, logger,
		authlog.WithPollInterval(cfg.AuthLog.PollInterval.Std()))

	mon, err := monitor.New(&monitor.Config{
		NotifyEnabled: cfg.Notify.Enabled,
		Logger:        logger,
	}, st, notifier, tailer, lineDetectors, pollers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting vigil",
		zap.String("authlog", cfg.AuthLog.Path),
		zap.String("db", cfg.Store.Path))
	return mon.Run(ctx)
}

// buildDetectors assembles the full detector set from the config.
func buildDetectors(cfg *config.Config, st *store.Store, logger *zap.Logger) ([]detectors.LineDetector, []detectors.PollDetector, error) {
	bruteForce, err := detectors.NewBruteForceDetector(&detectors.BruteForceConfig{
		Window:       cfg.BruteForce.Window.Std(),
		WarnAttempts: cfg.BruteForce.WarnAttempts,
		CritAttempts: cfg.BruteForce.CritAttempts,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	successAfterFail, err := detectors.NewSuccessAfterFailDetector(&detectors.SuccessAfterFailConfig{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	sudoActivity, err := detectors.NewSudoActivityDetector(&detectors.SudoActivityConfig{Logger: logger}, st)
	if err != nil {
		return nil, nil, err
	}

	temperature, err := detectors.NewTemperatureDetector(&detectors.TemperatureConfig{
		PollInterval: cfg.Intervals.Temperature.Std(),
		Logger:       logger,
	}, thermal.NewSampler())
	if err != nil {
		return nil, nil, err
	}
	diskUsage, err := detectors.NewDiskUsageDetector(&detectors.DiskUsageConfig{
		WarnPct:      cfg.Disk.WarnPct,
		CritPct:      cfg.Disk.CritPct,
		Consecutive:  cfg.Disk.Consecutive,
		PollInterval: cfg.Intervals.Disk.Std(),
		Logger:       logger,
	}, diskfree.NewSampler())
	if err != nil {
		return nil, nil, err
	}
	services, err := detectors.NewServiceHealthDetector(&detectors.ServiceHealthConfig{
		PollInterval: cfg.Intervals.Services.Std(),
		Logger:       logger,
	}, sysd.NewSampler())
	if err != nil {
		return nil, nil, err
	}
	memory, err := detectors.NewMemoryPressureDetector(&detectors.MemoryPressureConfig{
		PollInterval: cfg.Intervals.Memory.Std(),
		Logger:       logger,
	}, meminfo.NewSampler())
	if err != nil {
		return nil, nil, err
	}
	listeners, err := detectors.NewListenerDetector(&detectors.ListenerConfig{
		PollInterval: cfg.Intervals.Listeners.Std(),
		Trust:        cfg.TrustEntries(),
		Logger:       logger,
	}, sockets.NewSampler(), st)
	if err != nil {
		return nil, nil, err
	}
	integrity, err := detectors.NewIntegrityDetector(&detectors.IntegrityConfig{
		PollInterval: cfg.Intervals.Integrity.Std(),
		Logger:       logger,
	}, st, st)
	if err != nil {
		return nil, nil, err
	}

	lineDetectors := []detectors.LineDetector{bruteForce, successAfterFail, sudoActivity}
	pollers := []detectors.PollDetector{temperature, diskUsage, services, memory, listeners, integrity}
	return lineDetectors, pollers, nil
}
