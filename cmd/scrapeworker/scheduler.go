package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrape-throttle/worker/scrape"
)

func newSchedulerCmd(flags *rootFlags) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue one update job per tracked competitor, periodically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				trackers, err := a.trackingStore(ctx)
				if err != nil {
					return err
				}
				s := &scrape.Scheduler{
					Trackers: trackers,
					Queue:    a.queue,
					Registry: a.registry,
					Interval: a.cfg.ScheduleInterval,
					Attempts: a.cfg.Queue.Attempts,
					Backoff:  a.cfg.Queue.Backoff,
					Logger:   a.log,
				}
				if once {
					n, err := s.EnqueueAll(ctx)
					a.log.Info("scheduler run finished", zap.Int("enqueued", n))
					return err
				}
				a.log.Info("scheduler started", zap.Duration("interval", a.cfg.ScheduleInterval))
				return s.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Enqueue a single round and exit")
	return cmd
}
