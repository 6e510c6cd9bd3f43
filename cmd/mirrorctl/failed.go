package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"helpdesk-sync/internal/app"

	"github.com/spf13/cobra"
)

var (
	failedLimit  int
	failedStatus string
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Inspect and replay the notification failure log",
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded failures, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.Store.ListFailedEvents(cmd.Context(), failedStatus, failedLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No failed events.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEVENT\tENTITY\tTYPE\tSTATUS\tATTEMPTS\tCREATED\tERROR")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
				e.ID, e.Event, e.EntityID, e.ErrorType, e.Status, e.Attempts,
				e.CreatedAt.Format(time.RFC3339), e.ErrorMessage)
		}
		return w.Flush()
	},
}

var failedReplayCmd = &cobra.Command{
	Use:   "replay <id>",
	Short: "Re-run the reconciliation for a recorded failure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRemoteID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Router.Replay(cmd.Context(), id); err != nil {
			return fmt.Errorf("replay %d: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Replayed failed event %d\n", id)
		return nil
	},
}

func init() {
	failedListCmd.Flags().IntVar(&failedLimit, "limit", 50, "maximum number of rows")
	failedListCmd.Flags().StringVar(&failedStatus, "status", "", "filter by status (pending, replayed, failed)")
	failedCmd.AddCommand(failedListCmd, failedReplayCmd)
}
