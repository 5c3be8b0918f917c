package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *Server {
			return NewServer(cfg.HTTP.Addr, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server, m *metrics.Metrics) {
		s.Router.Method(http.MethodGet, "/metrics", m.Handler())
		s.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
