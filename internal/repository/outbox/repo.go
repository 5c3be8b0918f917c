package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is what the reader worker needs from the outbox table. The pgx
// implementation below is the production one; tests run against a fake.
type Store interface {
	ClaimBatch(ctx context.Context, workerID string, limit int, visibility time.Duration) ([]*Row, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string, retryAfter time.Duration) error
	MarkPermanentlyFailed(ctx context.Context, id int64, lastError string) error
	Defer(ctx context.Context, id int64, retryAfter time.Duration) error
	ReleaseLock(ctx context.Context, id int64) error
	OldestUnprocessedAge(ctx context.Context) (time.Duration, error)
	PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Interface guard
var _ Store = (*Repo)(nil)

// Repo is the pgx-backed outbox store.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// claimSQL picks the oldest claimable rows and locks them in one statement.
// SKIP LOCKED serializes concurrent workers per row without blocking; the
// lock transaction commits before any bus call happens.
const claimSQL = `
WITH picked AS (
    SELECT id
    FROM outbox
    WHERE processed_at IS NULL
      AND (locked_until IS NULL OR locked_until < now())
    ORDER BY id
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET locked_by = $2, locked_until = now() + $3
FROM picked
WHERE o.id = picked.id
RETURNING o.id, o.event_id, o.event_type, o.tenant_id, o.aggregate_id,
          o.payload, o.created_at, o.processed_at, o.attempts, o.last_error,
          o.locked_by, o.locked_until`

func (r *Repo) ClaimBatch(ctx context.Context, workerID string, limit int, visibility time.Duration) ([]*Row, error) {
	rows, err := r.pool.Query(ctx, claimSQL, limit, workerID, visibility)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim batch: %w", err)
	}
	defer rows.Close()

	var claimed []*Row
	for rows.Next() {
		row := new(Row)
		if err := rows.Scan(
			&row.ID, &row.EventID, &row.EventType, &row.TenantID, &row.AggregateID,
			&row.Payload, &row.CreatedAt, &row.ProcessedAt, &row.Attempts, &row.LastError,
			&row.LockedBy, &row.LockedUntil,
		); err != nil {
			return nil, fmt.Errorf("outbox: scan claimed row: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim batch rows: %w", err)
	}

	// The RETURNING order follows the UPDATE join, not the pick order.
	sortByID(claimed)
	return claimed, nil
}

func sortByID(rows []*Row) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].ID < rows[j-1].ID; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func (r *Repo) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET processed_at = now(), locked_by = NULL, locked_until = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("outbox: mark processed %d: %w", id, err)
	}
	return nil
}

// MarkFailed records the error and schedules the next attempt: the row
// becomes claimable again once locked_until passes.
func (r *Repo) MarkFailed(ctx context.Context, id int64, lastError string, retryAfter time.Duration) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    locked_by = NULL,
		    locked_until = now() + $3
		WHERE id = $1`, id, lastError, retryAfter)
	if err != nil {
		return fmt.Errorf("outbox: mark failed %d: %w", id, err)
	}
	return nil
}

// MarkPermanentlyFailed closes a row whose envelope moved to the DLQ.
func (r *Repo) MarkPermanentlyFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET processed_at = now(),
		    attempts = attempts + 1,
		    last_error = $2,
		    locked_by = NULL,
		    locked_until = NULL
		WHERE id = $1`, id, lastError)
	if err != nil {
		return fmt.Errorf("outbox: mark permanently failed %d: %w", id, err)
	}
	return nil
}

// Defer pushes a claimed row back without counting an attempt, used when a
// predecessor of the same aggregate failed and ordering must hold.
func (r *Repo) Defer(ctx context.Context, id int64, retryAfter time.Duration) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET locked_by = NULL, locked_until = now() + $2
		WHERE id = $1 AND processed_at IS NULL`, id, retryAfter)
	if err != nil {
		return fmt.Errorf("outbox: defer %d: %w", id, err)
	}
	return nil
}

// ReleaseLock frees a claimed row untouched, e.g. when shutdown interrupts a
// batch before its bus append.
func (r *Repo) ReleaseLock(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND processed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("outbox: release lock %d: %w", id, err)
	}
	return nil
}

func (r *Repo) OldestUnprocessedAge(ctx context.Context) (time.Duration, error) {
	var oldest *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT min(created_at) FROM outbox WHERE processed_at IS NULL`).Scan(&oldest)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("outbox: oldest unprocessed: %w", err)
	}
	if oldest == nil {
		return 0, nil
	}
	return time.Since(*oldest), nil
}

// PurgeProcessed deletes rows processed longer ago than the retention
// window, after the bus has trimmed them past replay.
func (r *Repo) PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL AND processed_at < now() - $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("outbox: purge processed: %w", err)
	}
	return tag.RowsAffected(), nil
}
