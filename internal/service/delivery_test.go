package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/infra/auth"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/adapter/streambus/streambustest"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
	"github.com/stretchr/testify/require"
)

// staticAuth maps a few literal tokens onto claims.
type staticAuth struct {
	tokens map[string]auth.Claims
}

func (a *staticAuth) Validate(token string) (auth.Claims, error) {
	if c, ok := a.tokens[token]; ok {
		return c, nil
	}
	return auth.Claims{}, fmt.Errorf("%w: bad token", event.ErrUnauthorized)
}

// replayBus serves a scripted per-topic history.
type replayBus struct {
	streambustest.NopBus
	history map[event.Topic][]streambus.Entry
}

func (b *replayBus) Replay(_ context.Context, topic event.Topic, afterID string, count int) ([]streambus.Entry, error) {
	var out []streambus.Entry
	for _, e := range b.history[topic] {
		if afterID != "" && e.ID <= afterID {
			continue
		}
		out = append(out, e)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func historyEntry(id int, tenant, eventType string) streambus.Entry {
	return streambus.Entry{
		Topic: event.TopicOrders,
		ID:    strconv.Itoa(id) + "-0",
		Envelope: &event.Envelope{
			EventID:       uuid.New(),
			EventType:     eventType,
			SchemaVersion: 1,
			TenantID:      tenant,
			AggregateID:   "o1",
			OccurredAt:    time.Now().UTC(),
			Producer:      "test",
			Payload:       json.RawMessage(`{}`),
		},
	}
}

func newTestDelivery(bus streambus.Bus) (*DeliveryService, *registry.Hub) {
	hub := registry.NewHub()
	authenticator := &staticAuth{tokens: map[string]auth.Claims{
		"tok-t1": {TenantID: "t1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := NewDeliveryService(hub, bus, authenticator, metrics.New(), DeliveryConfig{
		QueueCapacity:  16,
		OverflowPolicy: "disconnect",
		ReplayBatch:    2,
	})
	return svc, hub
}

func TestSubscribeRejectsBadCredential(t *testing.T) {
	svc, hub := newTestDelivery(&replayBus{})
	defer hub.Shutdown()

	_, _, err := svc.Subscribe(context.Background(), SubscribeRequest{
		Credential: "nope",
		Protocol:   registry.ProtocolStream,
	})
	require.ErrorIs(t, err, event.ErrUnauthorized)
}

func TestSubscribeCachesIdentityOnRecord(t *testing.T) {
	svc, hub := newTestDelivery(&replayBus{})
	defer hub.Shutdown()

	conn, claims, err := svc.Subscribe(context.Background(), SubscribeRequest{
		Credential: "tok-t1",
		Protocol:   registry.ProtocolSocket,
		Filters:    []string{"order_*"},
	})
	require.NoError(t, err)
	defer svc.Unsubscribe(conn.GetTenantID(), conn.GetID(), registry.CloseReason{Code: registry.CloseNormal})

	require.Equal(t, "t1", conn.GetTenantID())
	require.Equal(t, "u1", conn.GetUserID())
	require.Equal(t, "t1", claims.TenantID)
	require.Equal(t, 1, hub.ConnCount("t1"))
	require.True(t, conn.Matches("order_created"))
}

func TestSubscribeReplaysMissedEventsInOrder(t *testing.T) {
	bus := &replayBus{history: map[event.Topic][]streambus.Entry{
		event.TopicOrders: {
			historyEntry(1, "t1", "order_created"),
			historyEntry(2, "t1", "order_updated"),
			historyEntry(3, "t2", "order_created"), // foreign tenant, skipped
			historyEntry(4, "t1", "order_updated"),
			historyEntry(5, "t1", "order_cancelled"),
		},
	}}
	svc, hub := newTestDelivery(bus)
	defer hub.Shutdown()

	conn, _, err := svc.Subscribe(context.Background(), SubscribeRequest{
		Credential:  "tok-t1",
		Protocol:    registry.ProtocolSocket,
		Topics:      []event.Topic{event.TopicOrders},
		LastEventID: map[event.Topic]string{event.TopicOrders: "2-0"},
	})
	require.NoError(t, err)

	var got []string
	for len(got) < 2 {
		d := <-conn.Recv()
		got = append(got, d.StreamID)
	}
	require.Equal(t, []string{"4-0", "5-0"}, got)

	select {
	case d := <-conn.Recv():
		t.Fatalf("unexpected extra delivery %s", d.StreamID)
	default:
	}
}

func TestReplayHonorsSubscriptionFilters(t *testing.T) {
	bus := &replayBus{history: map[event.Topic][]streambus.Entry{
		event.TopicOrders: {
			historyEntry(1, "t1", "order_created"),
			historyEntry(2, "t1", "notification_sent"),
		},
	}}
	svc, hub := newTestDelivery(bus)
	defer hub.Shutdown()

	conn, _, err := svc.Subscribe(context.Background(), SubscribeRequest{
		Credential:  "tok-t1",
		Protocol:    registry.ProtocolStream,
		Filters:     []string{"order_*"},
		LastEventID: map[event.Topic]string{event.TopicOrders: ""},
	})
	require.NoError(t, err)

	d := <-conn.Recv()
	require.Equal(t, "order_created", d.Envelope.EventType)
	select {
	case <-conn.Recv():
		t.Fatal("filtered event type must not replay")
	default:
	}
}
