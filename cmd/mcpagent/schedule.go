package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyaverett/mcp-agent/internal/scheduler"
)

func newScheduleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured scheduled tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if len(cfg.Schedule.Jobs) == 0 {
				return fmt.Errorf("no jobs configured under schedule.jobs")
			}
			a, err := newApp(cmd.Context(), cfg, opts.stderr, appOptions{metrics: cfg.Observe.Metrics.Addr != ""})
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(a.Orchestrator(), a.logger)
			if err := sched.Start(cfg.Schedule.Jobs); err != nil {
				return err
			}

			var srv *http.Server
			if a.metrics != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				srv = &http.Server{Addr: cfg.Observe.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error().Err(err).Msg("metrics server")
					}
				}()
				a.logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
			}

			<-cmd.Context().Done()
			a.logger.Info().Msg("shutting down")
			sched.Stop()
			if srv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}
			return nil
		},
	}
}
