package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/stretchr/testify/require"
)

func validEnvelope(payload string) *event.Envelope {
	return &event.Envelope{
		EventID:       uuid.New(),
		EventType:     "order_created",
		SchemaVersion: 1,
		TenantID:      "t1",
		AggregateID:   "o1",
		OccurredAt:    time.Now().UTC(),
		Producer:      "ragline-api",
		Payload:       json.RawMessage(payload),
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltin(r)
	return r
}

func TestValidateAcceptsRegisteredPayload(t *testing.T) {
	r := newTestRegistry()
	env := validEnvelope(`{"items":[{"sku":"ABC","quantity":2}],"total_minor_units":2998,"currency":"USD"}`)
	require.NoError(t, r.Validate(env))
}

func TestValidateRejectsSchemaMismatch(t *testing.T) {
	r := newTestRegistry()

	cases := map[string]string{
		"empty items":      `{"items":[],"total_minor_units":100,"currency":"USD"}`,
		"missing currency": `{"items":[{"sku":"ABC","quantity":1}],"total_minor_units":100}`,
		"bad currency":     `{"items":[{"sku":"ABC","quantity":1}],"total_minor_units":100,"currency":"DOLLARS"}`,
		"zero quantity":    `{"items":[{"sku":"ABC","quantity":0}],"total_minor_units":100,"currency":"USD"}`,
		"unknown field":    `{"items":[{"sku":"ABC","quantity":1}],"total_minor_units":100,"currency":"USD","surprise":true}`,
		"not json":         `{"items":`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Validate(validEnvelope(payload))
			require.ErrorIs(t, err, event.ErrValidation)
		})
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	r := newTestRegistry()

	env := validEnvelope(`{}`)
	env.EventType = "order_teleported"
	require.ErrorIs(t, r.Validate(env), event.ErrUnknownEventType)

	env = validEnvelope(`{}`)
	env.SchemaVersion = 99
	require.ErrorIs(t, r.Validate(env), event.ErrUnknownEventType)
}

func TestValidateRejectsBadHeader(t *testing.T) {
	r := newTestRegistry()

	env := validEnvelope(`{"items":[{"sku":"A","quantity":1}],"total_minor_units":1,"currency":"USD"}`)
	env.TenantID = ""
	require.ErrorIs(t, r.Validate(env), event.ErrValidation)

	env = validEnvelope(`{}`)
	env.EventID = uuid.Nil
	require.ErrorIs(t, r.Validate(env), event.ErrValidation)

	env = validEnvelope(`{}`)
	env.OccurredAt = time.Time{}
	require.ErrorIs(t, r.Validate(env), event.ErrValidation)
}

func TestKnownAndLateRegistration(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Known("order_created", 1))

	r.Register("order_created", 1, func() any { return new(OrderCreatedV1) })
	require.True(t, r.Known("order_created", 1))
	require.False(t, r.Known("order_created", 2))
}
