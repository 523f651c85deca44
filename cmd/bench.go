/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/payloadbench/apiserver/internal/channel"
	"github.com/payloadbench/apiserver/internal/client"
)

var (
	benchURL     string
	benchRounds  int
	benchTimeout time.Duration
	benchSample  bool
)

// benchCmd requests both payload modes over the channel and prints what
// each one cost on the wire and to decode.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare object and tuple payloads against a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), benchTimeout)
		defer cancel()

		c, err := client.Dial(ctx, benchURL, nil)
		if err != nil {
			return err
		}
		defer c.Close()

		events := []string{channel.EventRequestObject}
		if c.Supports(channel.EventRequestTuple) {
			events = append(events, channel.EventRequestTuple)
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROUND\tKIND\tBYTES\tITEMS\tELAPSED\tDECODE")

		var samples []client.Result
		for round := 1; round <= benchRounds; round++ {
			for _, event := range events {
				res, err := c.Request(ctx, event)
				if err != nil {
					return fmt.Errorf("%s: %w", event, err)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
					round, res.Kind, res.SizeBytes, res.ItemCount, res.Elapsed, res.DecodeDuration)
				if round == 1 {
					samples = append(samples, res)
				}
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if benchSample {
			return printSamples(out, samples)
		}
		return nil
	},
}

func printSamples(out io.Writer, results []client.Result) error {
	for _, res := range results {
		sample, err := res.Sample()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s sample:\n%s\n", res.Kind, sample)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringVar(&benchURL, "url", "ws://localhost:3002/channel", "channel endpoint")
	benchCmd.Flags().IntVar(&benchRounds, "rounds", 1, "number of request rounds per mode")
	benchCmd.Flags().DurationVar(&benchTimeout, "timeout", 30*time.Second, "overall timeout")
	benchCmd.Flags().BoolVar(&benchSample, "sample", false, "print the first decoded record of each mode")
}
