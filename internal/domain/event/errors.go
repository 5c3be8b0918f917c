package event

import "errors"

// Error kinds shared across the delivery core. Transport layers translate
// these into status codes and close frames; workers use them to decide
// between retry, dead-letter and surfacing to the caller.
var (
	// ErrValidation marks an envelope or payload that failed schema checks.
	ErrValidation = errors.New("envelope validation failed")

	// ErrUnknownEventType marks a write of an unregistered (type, version).
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrTransactionRequired is returned when the outbox writer is invoked
	// without a live transaction.
	ErrTransactionRequired = errors.New("transaction required")

	// ErrDuplicateEvent is returned on an event_id uniqueness violation.
	// A duplicate is a caller bug, not a transient condition.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrCircuitOpen short-circuits calls while a breaker isolates a
	// downstream.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrQueueOverflow reports a full outbound connection queue.
	ErrQueueOverflow = errors.New("outbound queue overflow")

	// ErrUnauthorized reports a failed push handshake credential.
	ErrUnauthorized = errors.New("unauthorized")
)
