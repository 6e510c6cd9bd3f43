package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"helpdesk-sync/config"
	"helpdesk-sync/internal/app"
	"helpdesk-sync/pkg/logger"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp 读取配置并装配组件，调用方负责 Close
func newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, logger.NewLoggerWithLevel(cfg.Log.Level), opts)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "mirrorctl",
	Short:        "Operate the helpdesk CRM mirror",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd, syncCmd, failedCmd, eventsCmd, tokenCmd)
}
