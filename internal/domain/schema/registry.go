// Package schema holds the event payload registry.
//
// Registration happens explicitly at startup; nothing is registered as an
// import side effect. A payload is validated by decoding it into the
// prototype registered for its (event_type, schema_version) address and
// running struct validation over the result.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ragline/delivery-service/internal/domain/event"
)

// Key addresses a schema document.
type Key struct {
	EventType     string
	SchemaVersion int
}

func (k Key) String() string {
	return fmt.Sprintf("%s.v%d", k.EventType, k.SchemaVersion)
}

// Registry validates envelopes against registered payload schemas.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[Key]func() any
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		schemas:  make(map[Key]func() any),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register binds a payload prototype to a (type, version) address.
// Later registrations for the same address win; startup wiring decides order.
func (r *Registry) Register(eventType string, version int, prototype func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[Key{eventType, version}] = prototype
}

// Known reports whether a (type, version) address has a registered schema.
func (r *Registry) Known(eventType string, version int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[Key{eventType, version}]
	return ok
}

// Validate checks the envelope header and its payload against the registered
// schema. Unregistered addresses fail with ErrUnknownEventType so writers can
// reject them; readers treat that error as forward-untouched.
func (r *Registry) Validate(env *event.Envelope) error {
	if err := r.validateHeader(env); err != nil {
		return err
	}

	r.mu.RLock()
	prototype, ok := r.schemas[Key{env.EventType, env.SchemaVersion}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s.v%d", event.ErrUnknownEventType, env.EventType, env.SchemaVersion)
	}

	payload := prototype()
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("%w: payload decode %s.v%d: %v", event.ErrValidation, env.EventType, env.SchemaVersion, err)
	}

	if err := r.validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: payload schema %s.v%d: %v", event.ErrValidation, env.EventType, env.SchemaVersion, err)
	}
	return nil
}

func (r *Registry) validateHeader(env *event.Envelope) error {
	switch {
	case env == nil:
		return fmt.Errorf("%w: nil envelope", event.ErrValidation)
	case env.EventID == uuid.Nil:
		return fmt.Errorf("%w: missing event_id", event.ErrValidation)
	case env.EventType == "":
		return fmt.Errorf("%w: missing event_type", event.ErrValidation)
	case env.SchemaVersion < 1:
		return fmt.Errorf("%w: schema_version must be >= 1", event.ErrValidation)
	case env.TenantID == "":
		return fmt.Errorf("%w: missing tenant_id", event.ErrValidation)
	case env.AggregateID == "":
		return fmt.Errorf("%w: missing aggregate_id", event.ErrValidation)
	case env.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurred_at", event.ErrValidation)
	case env.Producer == "":
		return fmt.Errorf("%w: missing producer", event.ErrValidation)
	case len(env.Payload) == 0:
		return fmt.Errorf("%w: missing payload", event.ErrValidation)
	}
	return nil
}
