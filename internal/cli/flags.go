package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-sh/vigil/pkg/store"
)

var muteFor time.Duration

var muteCmd = &cobra.Command{
	Use:   "mute",
	Short: "Suppress desktop notifications (events are still recorded)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, logger, st, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		if err := st.SetFlag(cmd.Context(), store.FlagMute, "1", muteFor); err != nil {
			return err
		}
		if muteFor > 0 {
			fmt.Printf("muted for %s\n", muteFor)
		} else {
			fmt.Println("muted until unmute")
		}
		return nil
	},
}

var unmuteCmd = &cobra.Command{
	Use:   "unmute",
	Short: "Re-enable desktop notifications",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, logger, st, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		if err := st.ClearFlag(cmd.Context(), store.FlagMute); err != nil {
			return err
		}
		fmt.Println("unmuted")
		return nil
	},
}

var maintenanceFor time.Duration

var maintenanceCmd = &cobra.Command{
	Use:       "maintenance on|off",
	Short:     "Toggle maintenance mode (downgrades expected file changes)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, st, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		switch args[0] {
		case "on":
			if err := st.SetFlag(cmd.Context(), store.FlagMaintenance, "1", maintenanceFor); err != nil {
				return err
			}
			if maintenanceFor > 0 {
				fmt.Printf("maintenance mode on for %s\n", maintenanceFor)
			} else {
				fmt.Println("maintenance mode on")
			}
		case "off":
			if err := st.ClearFlag(cmd.Context(), store.FlagMaintenance); err != nil {
				return err
			}
			fmt.Println("maintenance mode off")
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return nil
	},
}

func init() {
	muteCmd.Flags().DurationVar(&muteFor, "for", 0, "auto-unmute after this duration (0 = until unmute)")
	maintenanceCmd.Flags().DurationVar(&maintenanceFor, "for", time.Hour, "auto-disable after this duration (0 = until turned off)")
}
