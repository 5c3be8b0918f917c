package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/infra/auth"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
)

// SubscribeRequest carries everything a push handshake provides.
type SubscribeRequest struct {
	Credential string
	Protocol   registry.Protocol
	Filters    []string
	Topics     []event.Topic
	// LastEventID holds per-topic replay cursors; missed events after each
	// cursor are queued before the connection joins live fan-out.
	LastEventID map[event.Topic]string
}

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (SSE/WebSocket)
type Deliverer interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (registry.Connector, auth.Claims, error)
	Unsubscribe(tenantID string, connID uuid.UUID, r registry.CloseReason)
	Replay(ctx context.Context, conn registry.Connector, topic event.Topic, afterID string) error
	Stats() registry.Stats
}

// Interface guard
var _ Deliverer = (*DeliveryService)(nil)

type DeliveryService struct {
	hub           registry.Hubber
	bus           streambus.Bus
	authenticator auth.Authenticator
	metrics       *metrics.Metrics

	queueCapacity int
	overflow      registry.OverflowPolicy
	replayBatch   int
}

type DeliveryConfig struct {
	QueueCapacity  int
	OverflowPolicy string
	ReplayBatch    int
}

func NewDeliveryService(
	hub registry.Hubber,
	bus streambus.Bus,
	authenticator auth.Authenticator,
	m *metrics.Metrics,
	cfg DeliveryConfig,
) *DeliveryService {
	return &DeliveryService{
		hub:           hub,
		bus:           bus,
		authenticator: authenticator,
		metrics:       m,
		queueCapacity: cfg.QueueCapacity,
		overflow:      registry.OverflowPolicy(cfg.OverflowPolicy),
		replayBatch:   cfg.ReplayBatch,
	}
}

// Subscribe validates the credential once, creates the connection record and
// attaches it to the tenant cell. Replay cursors are drained before the
// attach so the live dispatcher never interleaves behind replayed history.
func (s *DeliveryService) Subscribe(ctx context.Context, req SubscribeRequest) (registry.Connector, auth.Claims, error) {
	claims, err := s.authenticator.Validate(req.Credential)
	if err != nil {
		return nil, auth.Claims{}, err
	}

	conn := registry.NewConnector(registry.ConnectConfig{
		TenantID:      claims.TenantID,
		UserID:        claims.UserID,
		Protocol:      req.Protocol,
		QueueCapacity: s.queueCapacity,
		Overflow:      s.overflow,
		Subscriptions: req.Filters,
	})

	for topic, afterID := range req.LastEventID {
		if err := s.Replay(ctx, conn, topic, afterID); err != nil {
			conn.Close(registry.CloseReason{Code: registry.CloseInternal, Reason: "replay failed"})
			return nil, auth.Claims{}, fmt.Errorf("replay %s: %w", topic, err)
		}
	}

	s.hub.Register(conn)
	s.metrics.ConnectionsOpen.Inc()
	return conn, claims, nil
}

func (s *DeliveryService) Unsubscribe(tenantID string, connID uuid.UUID, r registry.CloseReason) {
	s.hub.Unregister(tenantID, connID, r)
	s.metrics.ConnectionsOpen.Dec()
}

// Replay queues every retained entry after afterID that matches the
// connection's tenant and filters.
func (s *DeliveryService) Replay(ctx context.Context, conn registry.Connector, topic event.Topic, afterID string) error {
	cursor := afterID
	for {
		entries, err := s.bus.Replay(ctx, topic, cursor, s.replayBatch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		for _, e := range entries {
			cursor = e.ID
			if e.Envelope == nil || e.Envelope.TenantID != conn.GetTenantID() {
				continue
			}
			if !conn.Matches(e.Envelope.EventType) {
				continue
			}
			if err := conn.Enqueue(ctx, registry.Delivery{Envelope: e.Envelope, Topic: topic, StreamID: e.ID}); err != nil {
				return err
			}
		}

		if len(entries) < s.replayBatch {
			return nil
		}
	}
}

func (s *DeliveryService) Stats() registry.Stats {
	return s.hub.Stats()
}

// HeartbeatDeadline is the socket endpoint's pong liveness cutoff: two
// missed intervals close the connection. The one-way stream endpoint
// receives no client frames and applies no such cutoff.
func HeartbeatDeadline(interval time.Duration) time.Duration {
	return 2 * interval
}
