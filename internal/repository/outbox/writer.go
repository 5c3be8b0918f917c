package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/schema"
)

// Tx is the slice of a pgx transaction the writer needs. Accepting the
// narrow interface keeps the caller's transaction type out of this package
// and lets tests supply a fake.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertSQL = `
INSERT INTO outbox (event_id, event_type, tenant_id, aggregate_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5, now())`

// Writer appends envelopes to the outbox inside the caller's transaction.
type Writer struct {
	schemas *schema.Registry
}

func NewWriter(schemas *schema.Registry) *Writer {
	return &Writer{schemas: schemas}
}

// Append performs exactly one insert inside tx. The event is produced iff
// the caller's transaction commits; there is no other side effect.
func (w *Writer) Append(ctx context.Context, tx Tx, env *event.Envelope) error {
	if tx == nil {
		return event.ErrTransactionRequired
	}

	if err := w.schemas.Validate(env); err != nil {
		if errors.Is(err, event.ErrUnknownEventType) {
			// Unknown on write is rejected.
			return fmt.Errorf("%w: %v", event.ErrValidation, err)
		}
		return err
	}

	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("outbox: marshal envelope: %w", err)
	}

	_, err = tx.Exec(ctx, insertSQL,
		env.EventID, env.EventType, env.TenantID, env.AggregateID, raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", event.ErrDuplicateEvent, env.EventID)
		}
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}
