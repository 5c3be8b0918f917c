package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/schema"
	"github.com/stretchr/testify/require"
)

// fakeTx captures the insert without a database.
type fakeTx struct {
	execs []string
	args  [][]any
	err   error
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, sql)
	tx.args = append(tx.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), tx.err
}

func newTestWriter() *Writer {
	r := schema.NewRegistry()
	schema.RegisterBuiltin(r)
	return NewWriter(r)
}

func validEnvelope() *event.Envelope {
	return &event.Envelope{
		EventID:       uuid.New(),
		EventType:     "order_created",
		SchemaVersion: 1,
		TenantID:      "t1",
		AggregateID:   "o1",
		OccurredAt:    time.Now().UTC(),
		Producer:      "ragline-api",
		Payload:       json.RawMessage(`{"items":[{"sku":"ABC","quantity":2}],"total_minor_units":2998,"currency":"USD"}`),
	}
}

func TestAppendInsertsExactlyOnce(t *testing.T) {
	w := newTestWriter()
	tx := &fakeTx{}
	env := validEnvelope()

	require.NoError(t, w.Append(context.Background(), tx, env))
	require.Len(t, tx.execs, 1)
	require.Equal(t, env.EventID, tx.args[0][0])
	require.Equal(t, "order_created", tx.args[0][1])
	require.Equal(t, "t1", tx.args[0][2])
}

func TestAppendRequiresTransaction(t *testing.T) {
	w := newTestWriter()
	err := w.Append(context.Background(), nil, validEnvelope())
	require.ErrorIs(t, err, event.ErrTransactionRequired)
}

func TestAppendRejectsInvalidEnvelope(t *testing.T) {
	w := newTestWriter()
	tx := &fakeTx{}

	env := validEnvelope()
	env.Payload = json.RawMessage(`{"items":[]}`)
	require.ErrorIs(t, w.Append(context.Background(), tx, env), event.ErrValidation)
	require.Empty(t, tx.execs)
}

func TestAppendRejectsUnknownType(t *testing.T) {
	w := newTestWriter()
	tx := &fakeTx{}

	env := validEnvelope()
	env.EventType = "order_imagined"
	require.ErrorIs(t, w.Append(context.Background(), tx, env), event.ErrValidation)
	require.Empty(t, tx.execs)
}

func TestAppendMapsDuplicateEventID(t *testing.T) {
	w := newTestWriter()
	tx := &fakeTx{err: &pgconn.PgError{Code: "23505", ConstraintName: "outbox_event_id_key"}}

	err := w.Append(context.Background(), tx, validEnvelope())
	require.ErrorIs(t, err, event.ErrDuplicateEvent)
}
