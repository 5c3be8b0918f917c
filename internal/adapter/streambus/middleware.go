package streambus

import (
	"context"
	"log/slog"
	"time"

	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/domain/event"
)

// instrumentedBus decorates a Bus with metrics and structured logging
// without touching the transport logic.
type instrumentedBus struct {
	next    Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewInstrumentedBus(next Bus, logger *slog.Logger, m *metrics.Metrics) Bus {
	return &instrumentedBus{next: next, logger: logger, metrics: m}
}

func (b *instrumentedBus) Append(ctx context.Context, topic event.Topic, env *event.Envelope) (string, error) {
	start := time.Now()
	id, err := b.next.Append(ctx, topic, env)
	b.metrics.BusAppendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		b.logger.Error("STREAM_APPEND_FAILED",
			"topic", topic,
			"event_id", env.EventID,
			"err", err,
		)
		return id, err
	}

	b.metrics.EventsProduced.WithLabelValues(string(topic)).Inc()
	return id, nil
}

func (b *instrumentedBus) Read(ctx context.Context, group, consumer string, topics []event.Topic, count int, block time.Duration) ([]Entry, error) {
	entries, err := b.next.Read(ctx, group, consumer, topics, count, block)
	if err != nil {
		return entries, err
	}
	for _, e := range entries {
		b.metrics.EventsConsumed.WithLabelValues(string(e.Topic)).Inc()
	}
	return entries, nil
}

func (b *instrumentedBus) Ack(ctx context.Context, group string, topic event.Topic, id string) error {
	return b.next.Ack(ctx, group, topic, id)
}

func (b *instrumentedBus) Pending(ctx context.Context, group string, topic event.Topic) ([]PendingInfo, error) {
	infos, err := b.next.Pending(ctx, group, topic)
	if err == nil {
		b.metrics.StreamConsumerLag.WithLabelValues(group, string(topic)).Set(float64(len(infos)))
	}
	return infos, err
}

func (b *instrumentedBus) ClaimStale(ctx context.Context, group, consumer string, topic event.Topic, minIdle time.Duration, count int) ([]Entry, error) {
	entries, err := b.next.ClaimStale(ctx, group, consumer, topic, minIdle, count)
	if err == nil && len(entries) > 0 {
		b.logger.Warn("STREAM_STALE_CLAIMED",
			"group", group,
			"topic", topic,
			"count", len(entries),
		)
	}
	return entries, err
}

func (b *instrumentedBus) Replay(ctx context.Context, topic event.Topic, afterID string, count int) ([]Entry, error) {
	return b.next.Replay(ctx, topic, afterID, count)
}

func (b *instrumentedBus) DeadLetter(ctx context.Context, topic event.Topic, env *event.Envelope, reason string, attempts int, originID string) (string, error) {
	id, err := b.next.DeadLetter(ctx, topic, env, reason, attempts, originID)
	if err != nil {
		b.logger.Error("DLQ_APPEND_FAILED", "topic", topic, "event_id", env.EventID, "err", err)
		return id, err
	}

	b.logger.Warn("EVENT_DEAD_LETTERED",
		"topic", topic,
		"event_id", env.EventID,
		"reason", reason,
		"attempts", attempts,
	)
	if depth, derr := b.next.DLQDepth(ctx, topic); derr == nil {
		b.metrics.DLQDepth.WithLabelValues(string(topic)).Set(float64(depth))
	}
	return id, nil
}

func (b *instrumentedBus) DLQList(ctx context.Context, topic event.Topic, count int) ([]DLQEntry, error) {
	return b.next.DLQList(ctx, topic, count)
}

func (b *instrumentedBus) DLQDepth(ctx context.Context, topic event.Topic) (int64, error) {
	depth, err := b.next.DLQDepth(ctx, topic)
	if err == nil {
		b.metrics.DLQDepth.WithLabelValues(string(topic)).Set(float64(depth))
	}
	return depth, err
}

func (b *instrumentedBus) DLQRemove(ctx context.Context, topic event.Topic, id string) error {
	return b.next.DLQRemove(ctx, topic, id)
}

func (b *instrumentedBus) Trim(ctx context.Context, topic event.Topic, maxAge time.Duration) error {
	return b.next.Trim(ctx, topic, maxAge)
}
