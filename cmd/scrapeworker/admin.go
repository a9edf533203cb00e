package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrape-throttle/throttle"
)

func newAdminCmd(flags *rootFlags) *cobra.Command {
	var headers bool
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Serve the rate-limit admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				srv := &http.Server{
					Addr: a.cfg.AdminAddr,
					Handler: throttle.AdminRouter(throttle.AdminOptions{
						Service:             a.service,
						Stats:               a.statsReader(),
						Logger:              a.log,
						AddRateLimitHeaders: headers,
					}),
					ReadHeaderTimeout: 10 * time.Second,
					ReadTimeout:       30 * time.Second,
					WriteTimeout:      30 * time.Second,
					IdleTimeout:       90 * time.Second,
				}

				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()

				a.log.Info("admin listening", zap.String("addr", a.cfg.AdminAddr), zap.Bool("stats", a.stats != nil))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&headers, "ratelimit-headers", true, "Add X-RateLimit-* headers to per-domain status responses")
	return cmd
}
