// Package outbox persists pending events in the same relational store — and
// the same transaction — as the business mutation that produced them.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/internal/domain/event"
)

// Row is one captured event waiting to be forwarded to the stream bus.
type Row struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	TenantID    string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time

	ProcessedAt *time.Time
	Attempts    int
	LastError   *string
	LockedBy    *string
	LockedUntil *time.Time
}

// Envelope rebuilds the wire envelope from the stored row.
func (r *Row) Envelope() (*event.Envelope, error) {
	env := new(event.Envelope)
	if err := json.Unmarshal(r.Payload, env); err != nil {
		return nil, err
	}
	return env, nil
}
