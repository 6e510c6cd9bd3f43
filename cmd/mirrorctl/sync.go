package main

import (
	"context"
	"fmt"
	"strconv"

	"helpdesk-sync/internal/app"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile one remote entity now",
}

func parseRemoteID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid remote id %q", raw)
	}
	return id, nil
}

func runSync(cmd *cobra.Command, raw string, kind string, run func(ctx context.Context, a *app.App, id int64) error) error {
	id, err := parseRemoteID(raw)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := run(cmd.Context(), a, id); err != nil {
		return fmt.Errorf("sync %s %d: %w", kind, id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %s %d\n", kind, id)
	return nil
}

var syncDealCmd = &cobra.Command{
	Use:   "deal <remote-id>",
	Short: "Reconcile a deal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args[0], "deal", func(ctx context.Context, a *app.App, id int64) error {
			return a.Engine.SyncDeal(ctx, id)
		})
	},
}

var syncActivityCmd = &cobra.Command{
	Use:   "activity <remote-id>",
	Short: "Reconcile an activity and its attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args[0], "activity", func(ctx context.Context, a *app.App, id int64) error {
			return a.Engine.SyncActivity(ctx, id)
		})
	},
}

func init() {
	syncCmd.AddCommand(syncDealCmd, syncActivityCmd)
}
