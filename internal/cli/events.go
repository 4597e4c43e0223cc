package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent events, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, logger, st, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		events, err := st.ListEvents(cmd.Context(), eventsLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("no events")
			return nil
		}
		for _, ev := range events {
			fmt.Printf("%s  %-8s %-7s %-20s %s\n",
				ev.Timestamp.Format("2006-01-02 15:04:05"),
				ev.Severity, ev.Code, ev.Entity, ev.Message)
		}
		return nil
	},
}

var eventsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, logger, st, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		if err := st.ClearEvents(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("events cleared")
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "maximum number of events to show")
	eventsCmd.AddCommand(eventsClearCmd)
}
