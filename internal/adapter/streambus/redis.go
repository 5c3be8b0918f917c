package streambus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

// Interface guard
var _ Bus = (*redisBus)(nil)

// Stream entry field names.
const (
	fieldEnvelope = "envelope"
	fieldEventID  = "event_id"
	fieldType     = "event_type"
	fieldTenant   = "tenant_id"

	fieldReason      = "reason"
	fieldOriginTopic = "origin_topic"
	fieldOriginID    = "origin_id"
	fieldAttempts    = "attempt_count"
	fieldFailedAt    = "first_failed_at"
)

type redisBus struct {
	client  redis.UniversalClient
	product string

	// groups tracks consumer groups already ensured, keyed group+topic.
	mu     sync.Mutex
	groups map[string]struct{}
}

// NewRedisBus builds the Redis Streams implementation. Keys follow the
// {product}:stream:{topic} / {product}:dlq:{topic} scheme.
func NewRedisBus(client redis.UniversalClient, product string) Bus {
	return &redisBus{
		client:  client,
		product: product,
		groups:  make(map[string]struct{}),
	}
}

func (b *redisBus) streamKey(topic event.Topic) string {
	return fmt.Sprintf("%s:stream:%s", b.product, topic)
}

func (b *redisBus) dlqKey(topic event.Topic) string {
	return fmt.Sprintf("%s:dlq:%s", b.product, topic)
}

func (b *redisBus) Append(ctx context.Context, topic event.Topic, env *event.Envelope) (string, error) {
	raw, err := env.Marshal()
	if err != nil {
		return "", fmt.Errorf("streambus: marshal envelope: %w", err)
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey(topic),
		Values: map[string]any{
			fieldEnvelope: string(raw),
			fieldEventID:  env.EventID.String(),
			fieldType:     env.EventType,
			fieldTenant:   env.TenantID,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("streambus: append %s: %w", topic, err)
	}
	return id, nil
}

// ensureGroup creates the consumer group at the stream tail. New groups see
// only new entries; history is reachable through Replay.
func (b *redisBus) ensureGroup(ctx context.Context, group string, topic event.Topic) error {
	key := group + "/" + string(topic)

	b.mu.Lock()
	_, ok := b.groups[key]
	b.mu.Unlock()
	if ok {
		return nil
	}

	err := b.client.XGroupCreateMkStream(ctx, b.streamKey(topic), group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("streambus: create group %s on %s: %w", group, topic, err)
	}

	b.mu.Lock()
	b.groups[key] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *redisBus) Read(ctx context.Context, group, consumer string, topics []event.Topic, count int, block time.Duration) ([]Entry, error) {
	streams := make([]string, 0, len(topics)*2)
	for _, t := range topics {
		if err := b.ensureGroup(ctx, group, t); err != nil {
			return nil, err
		}
		streams = append(streams, b.streamKey(t))
	}
	for range topics {
		streams = append(streams, ">")
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("streambus: read group %s: %w", group, err)
	}

	var entries []Entry
	for _, stream := range res {
		topic := b.topicFromKey(stream.Stream)
		for _, msg := range stream.Messages {
			entries = append(entries, b.toEntry(topic, msg))
		}
	}
	return entries, nil
}

func (b *redisBus) topicFromKey(key string) event.Topic {
	return event.Topic(key[strings.LastIndex(key, ":")+1:])
}

func (b *redisBus) toEntry(topic event.Topic, msg redis.XMessage) Entry {
	e := Entry{Topic: topic, ID: msg.ID}
	if raw, ok := msg.Values[fieldEnvelope].(string); ok {
		if env, err := event.Unmarshal([]byte(raw)); err == nil {
			e.Envelope = env
		}
	}
	return e
}

func (b *redisBus) Ack(ctx context.Context, group string, topic event.Topic, id string) error {
	if err := b.client.XAck(ctx, b.streamKey(topic), group, id).Err(); err != nil {
		return fmt.Errorf("streambus: ack %s on %s: %w", id, topic, err)
	}
	return nil
}

func (b *redisBus) Pending(ctx context.Context, group string, topic event.Topic) ([]PendingInfo, error) {
	rows, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.streamKey(topic),
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, nil
		}
		return nil, fmt.Errorf("streambus: pending %s on %s: %w", group, topic, err)
	}

	infos := make([]PendingInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, PendingInfo{
			ID:         r.ID,
			Consumer:   r.Consumer,
			Idle:       r.Idle,
			Deliveries: r.RetryCount,
		})
	}
	return infos, nil
}

func (b *redisBus) ClaimStale(ctx context.Context, group, consumer string, topic event.Topic, minIdle time.Duration, count int) ([]Entry, error) {
	if err := b.ensureGroup(ctx, group, topic); err != nil {
		return nil, err
	}

	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.streamKey(topic),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("streambus: claim stale %s on %s: %w", group, topic, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, b.toEntry(topic, msg))
	}
	return entries, nil
}

func (b *redisBus) Replay(ctx context.Context, topic event.Topic, afterID string, count int) ([]Entry, error) {
	start := "-"
	if afterID != "" {
		// Exclusive range start, so the caller's cursor itself is skipped.
		start = "(" + afterID
	}

	msgs, err := b.client.XRangeN(ctx, b.streamKey(topic), start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("streambus: replay %s after %q: %w", topic, afterID, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, b.toEntry(topic, msg))
	}
	return entries, nil
}

func (b *redisBus) DeadLetter(ctx context.Context, topic event.Topic, env *event.Envelope, reason string, attempts int, originID string) (string, error) {
	raw, err := env.Marshal()
	if err != nil {
		return "", fmt.Errorf("streambus: marshal dlq envelope: %w", err)
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.dlqKey(topic),
		Values: map[string]any{
			fieldEnvelope:    string(raw),
			fieldEventID:     env.EventID.String(),
			fieldReason:      reason,
			fieldOriginTopic: string(topic),
			fieldOriginID:    originID,
			fieldAttempts:    attempts,
			fieldFailedAt:    time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("streambus: dead letter %s: %w", topic, err)
	}
	return id, nil
}

func (b *redisBus) DLQList(ctx context.Context, topic event.Topic, count int) ([]DLQEntry, error) {
	msgs, err := b.client.XRangeN(ctx, b.dlqKey(topic), "-", "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("streambus: dlq list %s: %w", topic, err)
	}

	entries := make([]DLQEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toDLQEntry(topic, msg))
	}
	return entries, nil
}

func toDLQEntry(topic event.Topic, msg redis.XMessage) DLQEntry {
	e := DLQEntry{ID: msg.ID, OriginTopic: topic}
	if raw, ok := msg.Values[fieldEnvelope].(string); ok {
		if env, err := event.Unmarshal([]byte(raw)); err == nil {
			e.Envelope = env
		}
	}
	if v, ok := msg.Values[fieldReason].(string); ok {
		e.Reason = v
	}
	if v, ok := msg.Values[fieldOriginID].(string); ok {
		e.OriginID = v
	}
	if v, ok := msg.Values[fieldAttempts].(string); ok {
		e.AttemptCount, _ = strconv.Atoi(v)
	}
	if v, ok := msg.Values[fieldFailedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			e.FirstFailedAt = ts
		}
	}
	return e
}

func (b *redisBus) DLQDepth(ctx context.Context, topic event.Topic) (int64, error) {
	n, err := b.client.XLen(ctx, b.dlqKey(topic)).Result()
	if err != nil {
		return 0, fmt.Errorf("streambus: dlq depth %s: %w", topic, err)
	}
	return n, nil
}

func (b *redisBus) DLQRemove(ctx context.Context, topic event.Topic, id string) error {
	if err := b.client.XDel(ctx, b.dlqKey(topic), id).Err(); err != nil {
		return fmt.Errorf("streambus: dlq remove %s from %s: %w", id, topic, err)
	}
	return nil
}

// Trim drops entries older than maxAge. Stream ids are millisecond
// timestamps, so MINID maps an age cutoff directly onto an id.
func (b *redisBus) Trim(ctx context.Context, topic event.Topic, maxAge time.Duration) error {
	minID := fmt.Sprintf("%d-0", time.Now().Add(-maxAge).UnixMilli())
	if err := b.client.XTrimMinID(ctx, b.streamKey(topic), minID).Err(); err != nil {
		return fmt.Errorf("streambus: trim %s: %w", topic, err)
	}
	return nil
}
