package main

import (
	"errors"
	"fmt"

	"helpdesk-sync/internal/app"
	"helpdesk-sync/internal/db/migrations"
	"helpdesk-sync/pkg/db"

	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("migrations require db.type postgres")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{SkipMigrationCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Pool == nil {
			return errNoDatabase
		}

		sqlDB := db.OpenSQL(a.Pool)
		if err := migrations.MigrateUp(sqlDB); err != nil {
			return err
		}
		st, err := migrations.ReadStatus(sqlDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", st.Version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{SkipMigrationCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Pool == nil {
			return errNoDatabase
		}

		st, err := migrations.ReadStatus(db.OpenSQL(a.Pool))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Version: %d\n", st.Version)
		fmt.Fprintf(out, "Latest:  %d\n", st.Latest)
		fmt.Fprintf(out, "Dirty:   %t\n", st.Dirty)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}
