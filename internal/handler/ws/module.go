package ws

import (
	"log/slog"
	"time"

	"github.com/ragline/delivery-service/config"
	httpsrv "github.com/ragline/delivery-service/infra/server/http"
	"github.com/ragline/delivery-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ws-handler",
	fx.Provide(
		func(logger *slog.Logger, deliverer service.Deliverer, cfg *config.Config) *WSHandler {
			return NewWSHandler(logger, deliverer, func(channel string) time.Duration {
				return cfg.Heartbeat(channel)
			})
		},
	),
	fx.Invoke(func(h *WSHandler, s *httpsrv.Server) {
		h.Register(s.Router)
	}),
)
