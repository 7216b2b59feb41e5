package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/config"
	"github.com/codyaverett/mcp-agent/internal/gateway"
	"github.com/codyaverett/mcp-agent/internal/infer"
	"github.com/codyaverett/mcp-agent/internal/observe"
	"github.com/codyaverett/mcp-agent/internal/orchestrator"
	"github.com/codyaverett/mcp-agent/internal/phase"
	"github.com/codyaverett/mcp-agent/internal/store"
)

type appOptions struct {
	// metrics adds a Prometheus sink; the caller serves it.
	metrics bool
	// journalOnly skips the gateway and inference, for journal queries.
	journalOnly bool
}

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	sink     observe.Sink
	metrics  *observe.Metrics
	journal  *store.Journal
	phases   *phase.Client
	inferrer infer.Inferrer
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer, opts appOptions) (_ *app, err error) {
	logger, err := observe.NewLogger(logOut, cfg.Observe.Log.Level, cfg.Observe.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sinks := []observe.Sink{observe.NewLogSink(logger)}

	if opts.metrics {
		a.metrics = observe.NewMetrics(prometheus.NewRegistry())
		sinks = append(sinks, a.metrics)
	}

	if rc := cfg.Observe.Redis; rc.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		rs := observe.NewRedisSink(client, cfg.RedisOptions(), logger)
		a.closers = append(a.closers, rs.Close)
		sinks = append(sinks, rs)
	}

	if cfg.Journal.DSN != "" {
		db, err := store.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.journal = store.NewJournal(db, logger)
		sinks = append(sinks, a.journal)
		a.prune(ctx)
	}

	a.sink = observe.Multi(sinks...)
	if opts.journalOnly {
		return a, nil
	}

	gw, err := gateway.New(cfg.Gateway(), a.sink)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if c, ok := gw.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.phases = phase.NewClient(gw, a.sink)

	a.inferrer, err = infer.New(cfg.Infer(), logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Orchestrator returns a fresh orchestrator over the shared gateway.
func (a *app) Orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(a.phases, a.inferrer, a.sink, orchestrator.Options{
		Transactional:     a.cfg.Orchestrator.Transactional,
		TrustBackendOrder: a.cfg.Orchestrator.TrustBackendOrder,
	})
}

func (a *app) prune(ctx context.Context) {
	if a.cfg.Journal.Retention <= 0 {
		return
	}
	n, err := a.journal.PruneBefore(ctx, time.Now().Add(-a.cfg.Journal.Retention))
	if err != nil {
		a.logger.Warn().Err(err).Msg("journal prune failed")
		return
	}
	if n > 0 {
		a.logger.Info().Int64("runs", n).Msg("pruned old runs from journal")
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown")
	}
}
