package service

import (
	"context"
	"log/slog"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/auth"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/registry"
	"github.com/ragline/delivery-service/internal/pkg/breaker"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		func(
			hub registry.Hubber,
			bus streambus.Bus,
			authenticator auth.Authenticator,
			m *metrics.Metrics,
			cfg *config.Config,
		) *DeliveryService {
			return NewDeliveryService(hub, bus, authenticator, m, DeliveryConfig{
				QueueCapacity:  cfg.Push.QueueCapacity,
				OverflowPolicy: cfg.Push.OverflowPolicy,
				ReplayBatch:    cfg.Stream.ReadCount,
			})
		},
		fx.Annotate(
			func(s *DeliveryService) Deliverer { return s },
			fx.As(new(Deliverer)),
		),
		func(bus streambus.Bus, logger *slog.Logger, breakers *breaker.Manager, cfg *config.Config) *DLQManager {
			return NewDLQManager(bus, logger, breakers, DLQConfig{
				DepthThreshold:   cfg.DLQ.DepthThreshold,
				AgeThreshold:     cfg.DLQ.AgeThreshold,
				IngressThreshold: cfg.DLQ.IngressThreshold,
				CheckInterval:    cfg.DLQ.CheckInterval,
			})
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, m *DLQManager) {
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
