package dispatcher

import (
	"context"
	"log/slog"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatcher",
	fx.Provide(
		func(bus streambus.Bus, hub registry.Hubber, logger *slog.Logger, m *metrics.Metrics, cfg *config.Config) *Manager {
			return NewManager(bus, hub, logger, m, Config{
				AckPolicy:      cfg.Dispatcher.AckPolicy,
				IdleShutdown:   cfg.Dispatcher.IdleShutdown,
				ClaimInterval:  cfg.Dispatcher.ClaimInterval,
				ClaimMinIdle:   cfg.Dispatcher.ClaimMinIdle,
				ReadCount:      cfg.Stream.ReadCount,
				BlockTimeout:   cfg.Stream.BlockTimeout,
				HandlerTimeout: cfg.Stream.HandlerTimeout,
				DedupSize:      cfg.Dispatcher.DedupSize,
			})
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		runCtx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					m.Run(runCtx)
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				stop()
				select {
				case <-done:
				case <-ctx.Done():
				}
				return nil
			},
		})
	}),
)
