package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ragline/delivery-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox",
	fx.Provide(
		func(cfg *config.Config, lc fx.Lifecycle) (*pgxpool.Pool, error) {
			poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			poolCfg.MaxConns = cfg.Postgres.MaxConns

			pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := pool.Ping(ctx); err != nil {
						return err
					}
					return Migrate(cfg.Postgres.DSN)
				},
				OnStop: func(context.Context) error {
					pool.Close()
					return nil
				},
			})
			return pool, nil
		},
		NewWriter,
		NewRepo,
		fx.Annotate(
			func(r *Repo) Store { return r },
			fx.As(new(Store)),
		),
	),
)
