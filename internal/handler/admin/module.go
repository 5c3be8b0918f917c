package admin

import (
	httpsrv "github.com/ragline/delivery-service/infra/server/http"
	"go.uber.org/fx"
)

var Module = fx.Module("admin-handler",
	fx.Provide(
		NewAdminHandler,
	),
	fx.Invoke(func(h *AdminHandler, s *httpsrv.Server) {
		h.Register(s.Router)
	}),
)
