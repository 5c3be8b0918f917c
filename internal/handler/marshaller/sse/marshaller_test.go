package ssemarshaller

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
	"github.com/stretchr/testify/require"
)

func TestMarshallDeliveryFrame(t *testing.T) {
	env := &event.Envelope{
		EventID:       uuid.New(),
		EventType:     "order_created",
		SchemaVersion: 1,
		TenantID:      "t1",
		AggregateID:   "o1",
		OccurredAt:    time.Now().UTC(),
		Producer:      "test",
		Payload:       json.RawMessage(`{"items":[{"sku":"A","quantity":1}],"total_minor_units":100,"currency":"USD"}`),
	}

	frame, err := MarshallDelivery(registry.Delivery{Envelope: env, Topic: event.TopicOrders, StreamID: "42-0"})
	require.NoError(t, err)

	text := string(frame)
	require.True(t, strings.HasPrefix(text, "id: 42-0\nevent: order_created\ndata: "))
	require.True(t, strings.HasSuffix(text, "\n\n"))

	dataLine := strings.TrimSuffix(strings.SplitN(text, "data: ", 2)[1], "\n\n")
	decoded, err := event.Unmarshal([]byte(dataLine))
	require.NoError(t, err)
	require.Equal(t, env.EventID, decoded.EventID)
}

func TestMarshallDeliveryWithoutCursor(t *testing.T) {
	env := &event.Envelope{
		EventID:       uuid.New(),
		EventType:     "connected",
		SchemaVersion: 1,
		TenantID:      "t1",
		AggregateID:   "s1",
		OccurredAt:    time.Now().UTC(),
		Producer:      "test",
		Payload:       json.RawMessage(`{}`),
	}

	frame, err := MarshallDelivery(registry.Delivery{Envelope: env})
	require.NoError(t, err)
	require.False(t, strings.Contains(string(frame), "id: "))
}

func TestHeartbeatIsComment(t *testing.T) {
	hb := string(Heartbeat("2025-06-01T12:00:00Z"))
	require.True(t, strings.HasPrefix(hb, ": heartbeat "))
	require.True(t, strings.HasSuffix(hb, "\n\n"))
}
