/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/payloadbench/apiserver/config"
	"github.com/payloadbench/apiserver/internal/client"
	"github.com/payloadbench/apiserver/internal/mq"
)

var subscribeCount int

// subscribeCmd listens on the broker channel and decodes broadcast payloads.
var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Decode payloads broadcast on the configured broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is required")
		}
		defer broker.Close()

		var received atomic.Int64
		err = broker.Subscribe(ctx, func(ctx context.Context, msg mq.Message) error {
			res, err := client.DecodeRaw(msg.Attributes[mq.AttrKind], msg.Data)
			if err != nil {
				logger.Error("decode broadcast", "id", msg.ID, "err", err)
				return nil
			}
			logger.Info("broadcast received",
				"id", msg.ID,
				"kind", res.Kind,
				"bytes", res.SizeBytes,
				"items", res.ItemCount,
				"decode", res.DecodeDuration,
			)
			if subscribeCount > 0 && received.Add(1) >= int64(subscribeCount) {
				cancel()
			}
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(subscribeCmd)
	subscribeCmd.Flags().IntVar(&subscribeCount, "count", 0, "exit after this many messages (0 runs until interrupted)")
}
