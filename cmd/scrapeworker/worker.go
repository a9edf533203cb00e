package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrape-throttle/worker/queue"
)

const configRefreshInterval = 30 * time.Second

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume scrape jobs from the shared queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				proc, err := a.processor(ctx)
				if err != nil {
					return err
				}

				// mudanças feitas pela API admin chegam aos workers pelo snapshot no Redis.
				go refreshConfig(ctx, a)

				a.log.Info("worker started",
					zap.String("queue", a.cfg.Queue.Name),
					zap.Int("concurrency", a.cfg.Queue.Concurrency),
					zap.Any("concurrency_per_type", a.cfg.Queue.PerType),
					zap.Float64("rate_rps", a.cfg.Queue.RateRPS),
					zap.Int("rate_burst", a.cfg.Queue.RateBurst),
					zap.Duration("job_timeout", a.cfg.Queue.JobTimeout),
				)

				err = a.queue.Process(ctx, proc.Handle, queue.WorkerOptions{
					Concurrency:    a.cfg.Queue.Concurrency,
					PerType:        a.cfg.Queue.PerType,
					AcquireTimeout: a.cfg.Queue.AcquireTimeout,
					Limiter:        a.queueLimiter(),
					JobTimeout:     a.cfg.Queue.JobTimeout,
					OnCompleted: func(j queue.Job) {
						a.log.Info("job completed", zap.String("job_id", j.ID), zap.String("job_type", j.Name))
					},
					OnFailed: func(j queue.Job, err error) {
						a.log.Error("job failed",
							zap.String("job_id", j.ID),
							zap.String("job_type", j.Name),
							zap.Int("attempt", j.Attempt),
							zap.Error(err),
						)
					},
				})
				a.log.Info("worker stopped")
				return err
			})
		},
	}
}

func refreshConfig(ctx context.Context, a *app) {
	t := time.NewTicker(configRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.registry.Refresh(ctx)
		}
	}
}
