package cmd

import (
	"log/slog"
	"os"

	"github.com/ragline/delivery-service/config"
	"github.com/ragline/delivery-service/infra/auth"
	"github.com/ragline/delivery-service/infra/metrics"
	httpsrv "github.com/ragline/delivery-service/infra/server/http"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/dispatcher"
	"github.com/ragline/delivery-service/internal/domain/registry"
	"github.com/ragline/delivery-service/internal/domain/schema"
	adminhandler "github.com/ragline/delivery-service/internal/handler/admin"
	ssehandler "github.com/ragline/delivery-service/internal/handler/sse"
	wshandler "github.com/ragline/delivery-service/internal/handler/ws"
	"github.com/ragline/delivery-service/internal/pkg/breaker"
	"github.com/ragline/delivery-service/internal/repository/outbox"
	"github.com/ragline/delivery-service/internal/service"
	"github.com/ragline/delivery-service/internal/worker"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		metrics.Module,
		schema.Module,
		auth.Module,
		registry.Module,
		streambus.Module,
		outbox.Module,
		breaker.Module,
		service.Module,
		worker.Module,
		dispatcher.Module,
		httpsrv.Module,
		ssehandler.Module,
		wshandler.Module,
		adminhandler.Module,
	)
}

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", ServiceName, "version", version)
	slog.SetDefault(logger)
	return logger
}
