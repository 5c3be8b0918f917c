// Package streambus is the only component aware of the concrete stream
// technology. Everything else — reader, dispatcher, DLQ manager — depends on
// the Bus interface.
package streambus

import (
	"context"
	"time"

	"github.com/ragline/delivery-service/internal/domain/event"
)

// Entry is one bus record: the envelope plus its bus-assigned monotonic id.
type Entry struct {
	Topic    event.Topic
	ID       string
	Envelope *event.Envelope
}

// PendingInfo describes an entry delivered to a consumer but not yet acked.
type PendingInfo struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// DLQEntry is a quarantined envelope with its failure context.
type DLQEntry struct {
	ID            string          `json:"id"`
	Envelope      *event.Envelope `json:"envelope"`
	Reason        string          `json:"reason"`
	OriginTopic   event.Topic     `json:"origin_topic"`
	OriginID      string          `json:"origin_id"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	AttemptCount  int             `json:"attempt_count"`
}

// Bus abstracts a log-structured stream with at-least-once delivery,
// consumer groups with per-consumer acknowledgements, pending inspection,
// stale-claim recovery, trimming and a dead-letter stream per topic.
type Bus interface {
	// Append is idempotent on event_id by contract with the outbox reader:
	// the reader only re-appends after a crash between append and
	// mark-processed, and consumers de-duplicate on event_id.
	Append(ctx context.Context, topic event.Topic, env *event.Envelope) (string, error)

	Read(ctx context.Context, group, consumer string, topics []event.Topic, count int, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, group string, topic event.Topic, id string) error
	Pending(ctx context.Context, group string, topic event.Topic) ([]PendingInfo, error)

	// ClaimStale reclaims entries a dead consumer never acked.
	ClaimStale(ctx context.Context, group, consumer string, topic event.Topic, minIdle time.Duration, count int) ([]Entry, error)

	// Replay reads committed entries after the given bus id, outside any
	// consumer group. An empty afterID starts at the beginning of the
	// retention window.
	Replay(ctx context.Context, topic event.Topic, afterID string, count int) ([]Entry, error)

	DeadLetter(ctx context.Context, topic event.Topic, env *event.Envelope, reason string, attempts int, originID string) (string, error)
	DLQList(ctx context.Context, topic event.Topic, count int) ([]DLQEntry, error)
	DLQDepth(ctx context.Context, topic event.Topic) (int64, error)
	DLQRemove(ctx context.Context, topic event.Topic, id string) error

	Trim(ctx context.Context, topic event.Topic, maxAge time.Duration) error
}
