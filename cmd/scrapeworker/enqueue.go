package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scrape-throttle/worker/queue"
	"scrape-throttle/worker/scrape"
)

func newEnqueueCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add scrape jobs to the shared queue",
	}
	cmd.AddCommand(newEnqueueSearchCmd(flags), newEnqueueUpdateCmd(flags))
	return cmd
}

func newEnqueueSearchCmd(flags *rootFlags) *cobra.Command {
	var (
		data  scrape.JobData
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Enqueue a marketplace search",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data.Type = scrape.JobSearch
			if data.Query() == "" {
				return errors.New("--query or --title is required")
			}
			return enqueue(cmd, flags, data, delay)
		},
	}
	cmd.Flags().StringVar(&data.SearchQuery, "query", "", "Search terms")
	cmd.Flags().StringVar(&data.ProductTitle, "title", "", "Product title used when --query is empty")
	cmd.Flags().StringVar(&data.ListingID, "listing", "", "Listing id used as the result cache key")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes ready")
	return cmd
}

func newEnqueueUpdateCmd(flags *rootFlags) *cobra.Command {
	var (
		data  scrape.JobData
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "update <competitor-id>",
		Short: "Enqueue a price update for one tracked competitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data.Type = scrape.JobUpdate
			data.CompetitorID = args[0]
			return enqueue(cmd, flags, data, delay)
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes ready")
	return cmd
}

func enqueue(cmd *cobra.Command, flags *rootFlags, data scrape.JobData, delay time.Duration) error {
	return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
		id, err := a.queue.Add(ctx, data.Type, data, queue.JobOptions{
			Delay:    delay,
			Attempts: a.cfg.Queue.Attempts,
			Backoff:  a.cfg.Queue.Backoff,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	})
}
