package streambus

import (
	"context"
	"log/slog"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("streambus",
	fx.Provide(
		func(cfg *config.Config, lc fx.Lifecycle) redis.UniversalClient {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return client.Ping(ctx).Err()
				},
				OnStop: func(context.Context) error {
					return client.Close()
				},
			})
			return client
		},
		func(client redis.UniversalClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) Bus {
			return NewInstrumentedBus(NewRedisBus(client, cfg.Stream.Product), logger, m)
		},
	),
)
