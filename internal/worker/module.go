package worker

import (
	"context"
	"log/slog"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/schema"
	"github.com/ragline/delivery-service/internal/repository/outbox"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

var Module = fx.Module("worker",
	fx.Provide(
		func(cfg *config.Config) *Backoff {
			return NewBackoff(cfg.Retry.Base, cfg.Retry.Cap)
		},
	),
	fx.Invoke(func(
		lc fx.Lifecycle,
		cfg *config.Config,
		store outbox.Store,
		bus streambus.Bus,
		schemas *schema.Registry,
		backoff *Backoff,
		logger *slog.Logger,
		m *metrics.Metrics,
	) {
		runCtx, stop := context.WithCancel(context.Background())
		g, gCtx := errgroup.WithContext(runCtx)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				for i := 0; i < cfg.Outbox.Workers; i++ {
					reader := NewReader(store, bus, schemas, backoff, logger, m, ReaderConfig{
						PollInterval:      cfg.Outbox.PollInterval,
						BatchSize:         cfg.Outbox.BatchSize,
						VisibilityTimeout: cfg.Outbox.VisibilityTimeout,
						MaxAttempts:       cfg.Outbox.MaxAttempts,
						DBTimeout:         cfg.Postgres.QueryTimeout,
						BusTimeout:        cfg.Redis.OpTimeout,
					})
					g.Go(func() error {
						reader.Run(gCtx)
						return nil
					})
				}

				sweeper := NewSweeper(store, bus, logger, SweeperConfig{
					Interval:        cfg.Outbox.SweepInterval,
					OutboxRetention: cfg.Outbox.Retention,
					StreamRetention: cfg.Stream.Retention,
					DBTimeout:       cfg.Postgres.QueryTimeout,
					BusTimeout:      cfg.Redis.OpTimeout,
				})
				g.Go(func() error {
					sweeper.Run(gCtx)
					return nil
				})
				return nil
			},
			OnStop: func(ctx context.Context) error {
				stop()
				waitDone := make(chan error, 1)
				go func() { waitDone <- g.Wait() }()
				select {
				case err := <-waitDone:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}),
)
