package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topic is a logical stream name. The bus adapter maps it onto a concrete key.
type Topic string

const (
	TopicOrders        Topic = "orders"
	TopicNotifications Topic = "notifications"
	TopicSystem        Topic = "system"
)

// Envelope is the stable wire contract for every event flowing through the
// outbox, the stream bus and the push endpoints. The payload stays opaque at
// the transport layer and is decoded into a per-type structure only where a
// component needs to look inside (writer validation, handler dispatch).
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	TenantID      string          `json:"tenant_id"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// TopicFor derives the stream topic from the event type prefix.
// Unknown prefixes land on the system stream so nothing is silently lost.
func TopicFor(eventType string) Topic {
	prefix, _, _ := strings.Cut(eventType, "_")
	switch prefix {
	case "order":
		return TopicOrders
	case "notification":
		return TopicNotifications
	default:
		return TopicSystem
	}
}

// Topics enumerates every stream a dispatcher group subscribes to.
func Topics() []Topic {
	return []Topic{TopicOrders, TopicNotifications, TopicSystem}
}

// AggregateKey identifies the per-aggregate ordering domain.
func (e *Envelope) AggregateKey() string {
	return e.TenantID + "/" + e.AggregateID
}

// Marshal serializes the envelope as self-describing UTF-8 JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	env := new(Envelope)
	if err := json.Unmarshal(data, env); err != nil {
		return nil, err
	}
	return env, nil
}
