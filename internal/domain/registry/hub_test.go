package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/stretchr/testify/require"
)

func testEnvelope(tenant, eventType string) *event.Envelope {
	return &event.Envelope{
		EventID:       uuid.New(),
		EventType:     eventType,
		SchemaVersion: 1,
		TenantID:      tenant,
		AggregateID:   "agg",
		OccurredAt:    time.Now().UTC(),
		Producer:      "test",
		Payload:       json.RawMessage(`{}`),
	}
}

func testConn(tenant string, capacity int, overflow OverflowPolicy, filters ...string) Connector {
	return NewConnector(ConnectConfig{
		TenantID:      tenant,
		UserID:        "u1",
		Protocol:      ProtocolSocket,
		QueueCapacity: capacity,
		Overflow:      overflow,
		Subscriptions: filters,
	})
}

func TestHubTenantIsolation(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c1 := testConn("t1", 8, OverflowDisconnect)
	c2 := testConn("t2", 8, OverflowDisconnect)
	h.Register(c1)
	h.Register(c2)

	var visited []uuid.UUID
	h.ForEach("t1", "order_created", func(c Connector) bool {
		visited = append(visited, c.GetID())
		return true
	})

	require.Equal(t, []uuid.UUID{c1.GetID()}, visited)
	require.Equal(t, 1, h.ConnCount("t1"))
	require.Equal(t, 1, h.ConnCount("t2"))
	require.Equal(t, 0, h.ConnCount("t3"))
}

func TestHubSubscriptionFilters(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	orders := testConn("t1", 8, OverflowDisconnect, "order_*")
	all := testConn("t1", 8, OverflowDisconnect)
	notif := testConn("t1", 8, OverflowDisconnect, "notification_sent")
	for _, c := range []Connector{orders, all, notif} {
		h.Register(c)
	}

	matched := map[uuid.UUID]bool{}
	h.ForEach("t1", "order_created", func(c Connector) bool {
		matched[c.GetID()] = true
		return true
	})

	require.True(t, matched[orders.GetID()])
	require.True(t, matched[all.GetID()])
	require.False(t, matched[notif.GetID()])
}

func TestHubUnregisterPurgesEmptyCell(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c := testConn("t1", 8, OverflowDisconnect)
	h.Register(c)
	require.Equal(t, 1, h.ConnCount("t1"))

	h.Unregister("t1", c.GetID(), CloseReason{Code: CloseNormal, Reason: "test"})
	require.Equal(t, 0, h.ConnCount("t1"))
	require.False(t, c.Alive())
	require.Equal(t, CloseNormal, c.CloseInfo().Code)
}

func TestHubSignalsFirstConnection(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	h.Register(testConn("t1", 8, OverflowDisconnect))

	select {
	case sig := <-h.TenantSignals():
		require.Equal(t, "t1", sig.TenantID)
	default:
		t.Fatal("expected a tenant signal")
	}

	// A second connection for the same live tenant does not signal again.
	h.Register(testConn("t1", 8, OverflowDisconnect))
	select {
	case sig := <-h.TenantSignals():
		t.Fatalf("unexpected signal for %s", sig.TenantID)
	default:
	}
}

func TestConnectOverflowDisconnect(t *testing.T) {
	c := testConn("t1", 2, OverflowDisconnect)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, Delivery{Envelope: testEnvelope("t1", "order_created"), StreamID: "1-0"}))
	require.NoError(t, c.Enqueue(ctx, Delivery{Envelope: testEnvelope("t1", "order_created"), StreamID: "2-0"}))

	err := c.Enqueue(ctx, Delivery{Envelope: testEnvelope("t1", "order_created"), StreamID: "3-0"})
	require.ErrorIs(t, err, event.ErrQueueOverflow)
	require.False(t, c.Alive())
	require.Equal(t, CloseEviction, c.CloseInfo().Code)
}

func TestConnectOverflowDropOldest(t *testing.T) {
	c := testConn("t1", 2, OverflowDropOldest)
	ctx := context.Background()

	first := testEnvelope("t1", "order_created")
	second := testEnvelope("t1", "order_created")
	third := testEnvelope("t1", "order_created")

	require.NoError(t, c.Enqueue(ctx, Delivery{Envelope: first, StreamID: "1-0"}))
	require.NoError(t, c.Enqueue(ctx, Delivery{Envelope: second, StreamID: "2-0"}))
	require.NoError(t, c.Enqueue(ctx, Delivery{Envelope: third, StreamID: "3-0"}))

	require.True(t, c.Alive())
	require.Equal(t, uint64(1), c.Dropped())

	// The oldest was evicted; the latest two survive in order.
	d1 := <-c.Recv()
	d2 := <-c.Recv()
	require.Equal(t, second.EventID, d1.Envelope.EventID)
	require.Equal(t, third.EventID, d2.Envelope.EventID)
}

func TestConnectOverflowBlockHonorsContext(t *testing.T) {
	c := testConn("t1", 1, OverflowBlock)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, Delivery{Envelope: testEnvelope("t1", "x"), StreamID: "1-0"}))

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := c.Enqueue(blockedCtx, Delivery{Envelope: testEnvelope("t1", "x"), StreamID: "2-0"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, c.Alive())
}

func TestConnectCursorTracking(t *testing.T) {
	c := testConn("t1", 4, OverflowDisconnect)
	require.Empty(t, c.LastEventID(event.TopicOrders))

	c.MarkDelivered(event.TopicOrders, "7-0")
	require.Equal(t, "7-0", c.LastEventID(event.TopicOrders))
	require.Empty(t, c.LastEventID(event.TopicNotifications))
}

func TestConnectSubscriptionLifecycle(t *testing.T) {
	c := testConn("t1", 4, OverflowDisconnect, "order_*")
	require.True(t, c.Matches("order_created"))
	require.False(t, c.Matches("notification_sent"))

	c.Subscribe("notification_*")
	require.True(t, c.Matches("notification_sent"))

	c.Unsubscribe("order_*")
	require.False(t, c.Matches("order_created"))
}

func TestHubStats(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	h.Register(testConn("t1", 8, OverflowDisconnect))
	h.Register(testConn("t1", 8, OverflowDisconnect))
	h.Register(testConn("t2", 8, OverflowDisconnect))

	st := h.Stats()
	require.Equal(t, 2, st.Tenants)
	require.Equal(t, 3, st.Connections)
	require.Equal(t, 2, st.PerTenant["t1"].Connections)
	require.Equal(t, 1, st.PerTenant["t2"].Connections)
}
