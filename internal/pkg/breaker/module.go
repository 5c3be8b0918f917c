package breaker

import (
	"log/slog"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("breaker",
	fx.Provide(func(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
		return NewManager(Settings{
			FailureRatio: cfg.Breaker.FailureRatio,
			MinSamples:   cfg.Breaker.MinSamples,
			CoolDown:     cfg.Breaker.CoolDown,
			Window:       cfg.Breaker.Window,
		}, logger, m)
	}),
)
