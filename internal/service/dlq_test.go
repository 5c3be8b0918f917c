package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/adapter/streambus/streambustest"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/pkg/breaker"
	"github.com/stretchr/testify/require"
)

// dlqBus is an in-memory dead-letter store with append tracking.
type dlqBus struct {
	streambustest.NopBus
	entries  map[event.Topic][]streambus.DLQEntry
	appended []*event.Envelope
	removed  []string
}

func newDLQBus() *dlqBus {
	return &dlqBus{entries: make(map[event.Topic][]streambus.DLQEntry)}
}

func (b *dlqBus) Append(_ context.Context, _ event.Topic, env *event.Envelope) (string, error) {
	b.appended = append(b.appended, env)
	return "9-0", nil
}

func (b *dlqBus) DLQList(_ context.Context, topic event.Topic, count int) ([]streambus.DLQEntry, error) {
	list := b.entries[topic]
	if len(list) > count {
		list = list[:count]
	}
	return append([]streambus.DLQEntry(nil), list...), nil
}

func (b *dlqBus) DLQDepth(_ context.Context, topic event.Topic) (int64, error) {
	return int64(len(b.entries[topic])), nil
}

func (b *dlqBus) DLQRemove(_ context.Context, topic event.Topic, id string) error {
	b.removed = append(b.removed, id)
	kept := b.entries[topic][:0]
	for _, e := range b.entries[topic] {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	b.entries[topic] = kept
	return nil
}

func dlqEntry(id string, eventType string, failedAt time.Time) streambus.DLQEntry {
	return streambus.DLQEntry{
		ID: id,
		Envelope: &event.Envelope{
			EventID:       uuid.New(),
			EventType:     eventType,
			SchemaVersion: 1,
			TenantID:      "t1",
			AggregateID:   "o1",
			OccurredAt:    time.Now().UTC(),
			Producer:      "test",
			Payload:       json.RawMessage(`{}`),
		},
		Reason:        "retries_exhausted",
		OriginTopic:   event.TopicOrders,
		FirstFailedAt: failedAt,
		AttemptCount:  8,
	}
}

func newTestDLQManager(bus streambus.Bus, cfg DLQConfig) *DLQManager {
	breakers := breaker.NewManager(breaker.Settings{
		FailureRatio: 0.5, MinSamples: 20, CoolDown: 30 * time.Second, Window: 30 * time.Second,
	}, slog.New(slog.DiscardHandler), metrics.New())
	return NewDLQManager(bus, slog.New(slog.DiscardHandler), breakers, cfg)
}

func TestDLQReprocessMovesEntryBack(t *testing.T) {
	bus := newDLQBus()
	entry := dlqEntry("1-0", "order_created", time.Now())
	bus.entries[event.TopicOrders] = []streambus.DLQEntry{entry}

	m := newTestDLQManager(bus, DLQConfig{CheckInterval: time.Minute})

	require.NoError(t, m.Reprocess(context.Background(), event.TopicOrders, "1-0"))
	require.Len(t, bus.appended, 1)
	require.Equal(t, entry.Envelope.EventID, bus.appended[0].EventID)
	require.Equal(t, []string{"1-0"}, bus.removed)
	require.Empty(t, bus.entries[event.TopicOrders])
}

func TestDLQReprocessUnknownEntry(t *testing.T) {
	m := newTestDLQManager(newDLQBus(), DLQConfig{CheckInterval: time.Minute})
	err := m.Reprocess(context.Background(), event.TopicOrders, "404-0")
	require.Error(t, err)
}

func TestDLQReprocessMatchingFilters(t *testing.T) {
	bus := newDLQBus()
	bus.entries[event.TopicOrders] = []streambus.DLQEntry{
		dlqEntry("1-0", "order_created", time.Now()),
		dlqEntry("2-0", "order_updated", time.Now()),
		dlqEntry("3-0", "order_created", time.Now()),
	}

	m := newTestDLQManager(bus, DLQConfig{CheckInterval: time.Minute})
	moved, err := m.ReprocessMatching(context.Background(), event.TopicOrders, func(e streambus.DLQEntry) bool {
		return e.Envelope.EventType == "order_created"
	})
	require.NoError(t, err)
	require.Equal(t, 2, moved)
	require.Len(t, bus.entries[event.TopicOrders], 1)
	require.Equal(t, "2-0", bus.entries[event.TopicOrders][0].ID)
}

func TestDLQAlertsOnDepthAndAge(t *testing.T) {
	bus := newDLQBus()
	old := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 3; i++ {
		bus.entries[event.TopicOrders] = append(bus.entries[event.TopicOrders],
			dlqEntry(time.Now().Format("150405")+"-0", "order_created", old))
	}

	m := newTestDLQManager(bus, DLQConfig{
		DepthThreshold:   2,
		AgeThreshold:     24 * time.Hour,
		IngressThreshold: 1000,
		CheckInterval:    time.Minute,
	})
	m.check(context.Background())

	alerts := m.Alerts()
	types := make(map[string]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	require.True(t, types["high_depth"], "expected a depth alert, got %+v", alerts)
	require.True(t, types["old_entries"], "expected an age alert, got %+v", alerts)
}
