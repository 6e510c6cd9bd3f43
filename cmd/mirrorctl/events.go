package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"helpdesk-sync/config"
	"helpdesk-sync/pkg/logger"
	"helpdesk-sync/pkg/mq"

	"github.com/spf13/cobra"
)

var eventsRoutingKey string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Observe events published by the outbox",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print published events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.MQ.URL == "" {
			return errors.New("mq.url is not configured")
		}

		// 临时队列，断开后由 broker 删除
		consumer, err := mq.NewConsumer(cfg.MQ.URL, "", eventsRoutingKey, logger.NewLoggerWithLevel(cfg.Log.Level))
		if err != nil {
			return err
		}
		defer consumer.Stop()

		out := cmd.OutOrStdout()
		consumer.SetHandler(func(ctx context.Context, routingKey string, data json.RawMessage) error {
			_, err := fmt.Fprintf(out, "%s\t%s\t%s\n", time.Now().Format(time.RFC3339), routingKey, data)
			return err
		})
		return consumer.StartConsuming(cmd.Context())
	},
}

func init() {
	eventsWatchCmd.Flags().StringVar(&eventsRoutingKey, "routing-key", "#", "binding pattern, e.g. deal.* or #.synced")
	eventsCmd.AddCommand(eventsWatchCmd)
}
