package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-sh/vigil/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent state and active runtime flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, st, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		ctx := cmd.Context()

		state, err := st.GetFlag(ctx, store.FlagMonitorState)
		if err != nil {
			return err
		}
		if state == nil {
			fmt.Println("monitor:     never started")
		} else {
			fmt.Printf("monitor:     %s\n", state.Value)
		}

		muted, err := st.GetFlag(ctx, store.FlagMute)
		if err != nil {
			return err
		}
		if muted != nil {
			left, err := st.RemainingSeconds(ctx, store.FlagMute)
			if err != nil {
				return err
			}
			if left >= 0 {
				fmt.Printf("mute:        on (%s remaining)\n", time.Duration(left)*time.Second)
			} else {
				fmt.Println("mute:        on")
			}
		} else {
			fmt.Println("mute:        off")
		}

		maint, err := st.GetFlag(ctx, store.FlagMaintenance)
		if err != nil {
			return err
		}
		if maint != nil {
			fmt.Println("maintenance: on")
		} else {
			fmt.Println("maintenance: off")
		}

		fmt.Printf("database:    %s\n", cfg.Store.Path)
		fmt.Printf("authlog:     %s\n", cfg.AuthLog.Path)
		return nil
	},
}
