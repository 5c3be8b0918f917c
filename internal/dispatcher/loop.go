package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
)

// GroupFor names the consumer group of a tenant: one isolated cursor each.
func GroupFor(tenantID string) string {
	return "delivery-" + tenantID
}

// loop is the per-tenant consumer. Single goroutine; all fan-out goes
// through the registry so per-connection ordering is preserved by the
// connection's own queue.
type loop struct {
	tenantID string
	group    string
	consumer string

	bus     streambus.Bus
	hub     registry.Hubber
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	// dedup absorbs the at-most-one duplicate the outbox reader can produce
	// when it crashes between bus-append and mark-processed.
	dedup *lru.Cache[string, struct{}]

	idleSince time.Time
}

func newLoop(tenantID string, bus streambus.Bus, hub registry.Hubber, logger *slog.Logger, m *metrics.Metrics, cfg Config) *loop {
	host, _ := os.Hostname()
	dedup, _ := lru.New[string, struct{}](cfg.DedupSize)

	return &loop{
		tenantID: tenantID,
		group:    GroupFor(tenantID),
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		bus:      bus,
		hub:      hub,
		logger:   logger.With("tenant_id", tenantID),
		metrics:  m,
		cfg:      cfg,
		dedup:    dedup,
	}
}

func (l *loop) run(ctx context.Context) {
	claimTicker := time.NewTicker(l.cfg.ClaimInterval)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-claimTicker.C:
			l.claimStale(ctx)
		default:
		}

		entries, err := l.bus.Read(ctx, l.group, l.consumer, event.Topics(), l.cfg.ReadCount, l.cfg.BlockTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			l.logger.Error("DISPATCH_READ_FAILED", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, e := range entries {
			l.handle(ctx, e)
		}

		if l.shouldShutdown() {
			l.logger.Info("DISPATCHER_LOOP_IDLE_SHUTDOWN", "tenant_id", l.tenantID)
			return
		}
	}
}

// shouldShutdown tracks the zero-connection grace period.
func (l *loop) shouldShutdown() bool {
	if l.hub.ConnCount(l.tenantID) > 0 {
		l.idleSince = time.Time{}
		return false
	}
	if l.idleSince.IsZero() {
		l.idleSince = time.Now()
		return false
	}
	return time.Since(l.idleSince) > l.cfg.IdleShutdown
}

func (l *loop) claimStale(ctx context.Context) {
	for _, topic := range event.Topics() {
		// Pending inspection doubles as the consumer-lag sample.
		if _, err := l.bus.Pending(ctx, l.group, topic); err != nil {
			l.logger.Warn("DISPATCH_PENDING_FAILED", "topic", topic, "err", err)
		}

		entries, err := l.bus.ClaimStale(ctx, l.group, l.consumer, topic, l.cfg.ClaimMinIdle, l.cfg.ReadCount)
		if err != nil {
			l.logger.Warn("DISPATCH_CLAIM_FAILED", "topic", topic, "err", err)
			continue
		}
		for _, e := range entries {
			l.handle(ctx, e)
		}
	}
}

func (l *loop) handle(ctx context.Context, e streambus.Entry) {
	// Undecodable entries are terminal: ack so they never redeliver.
	if e.Envelope == nil {
		l.logger.Warn("DISPATCH_UNDECODABLE_ENTRY", "topic", e.Topic, "id", e.ID)
		l.ack(ctx, e)
		return
	}
	env := e.Envelope

	// Streams are topic-scoped, not tenant-scoped; drop foreign tenants
	// defensively before anything reaches a connection.
	if env.TenantID != l.tenantID {
		l.ack(ctx, e)
		return
	}

	if _, seen := l.dedup.Get(env.EventID.String()); seen {
		l.ack(ctx, e)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, l.cfg.HandlerTimeout)
	defer cancel()

	allEnqueued := true
	l.hub.ForEach(l.tenantID, env.EventType, func(conn registry.Connector) bool {
		l.metrics.PushQueueDepth.Observe(float64(conn.QueueLen()))

		if err := conn.Enqueue(hctx, registry.Delivery{Envelope: env, Topic: e.Topic, StreamID: e.ID}); err != nil {
			allEnqueued = false
			if errors.Is(err, event.ErrQueueOverflow) {
				// Overflow policy already decided the connection's fate;
				// nothing more to do here.
				l.logger.Warn("DISPATCH_ENQUEUE_OVERFLOW",
					"conn_id", conn.GetID(),
					"event_id", env.EventID,
				)
			}
		}
		return true
	})

	// best_effort acknowledges regardless; all_connected leaves the entry
	// pending so the claim cycle redelivers it.
	if l.cfg.AckPolicy == "all_connected" && !allEnqueued {
		return
	}

	l.dedup.Add(env.EventID.String(), struct{}{})
	l.ack(ctx, e)
}

func (l *loop) ack(ctx context.Context, e streambus.Entry) {
	if err := l.bus.Ack(ctx, l.group, e.Topic, e.ID); err != nil {
		l.logger.Warn("DISPATCH_ACK_FAILED", "topic", e.Topic, "id", e.ID, "err", err)
	}
}
