package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/repository/outbox"
)

type SweeperConfig struct {
	Interval        time.Duration
	OutboxRetention time.Duration
	StreamRetention time.Duration
	DBTimeout       time.Duration
	BusTimeout      time.Duration
}

// Sweeper enforces retention: processed outbox rows are purged only after
// the bus has trimmed the matching window, so replay never outlives its
// source of truth.
type Sweeper struct {
	store  outbox.Store
	bus    streambus.Bus
	logger *slog.Logger
	cfg    SweeperConfig
}

func NewSweeper(store outbox.Store, bus streambus.Bus, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		store:  store,
		bus:    bus,
		logger: logger.With("component", "sweeper"),
		cfg:    cfg,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	trimmed := true
	for _, topic := range event.Topics() {
		busCtx, cancel := context.WithTimeout(ctx, s.cfg.BusTimeout)
		err := s.bus.Trim(busCtx, topic, s.cfg.StreamRetention)
		cancel()
		if err != nil {
			s.logger.Warn("STREAM_TRIM_FAILED", "topic", topic, "err", err)
			trimmed = false
		}
	}
	if !trimmed {
		// Outbox rows stay until every stream trim has succeeded.
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()
	purged, err := s.store.PurgeProcessed(dbCtx, s.cfg.OutboxRetention)
	if err != nil {
		s.logger.Warn("OUTBOX_PURGE_FAILED", "err", err)
		return
	}
	if purged > 0 {
		s.logger.Info("OUTBOX_PURGED", "rows", purged)
	}
}
