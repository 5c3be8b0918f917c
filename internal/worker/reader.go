// Package worker hosts the background loops bridging the outbox table and
// the stream bus: the reader (publisher) and the retention sweeper.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/schema"
	"github.com/ragline/delivery-service/internal/repository/outbox"
)

// DLQ reasons recorded on permanently failed envelopes.
const (
	ReasonExhausted     = "retries_exhausted"
	ReasonPoisonPayload = "poison_payload"
)

type ReaderConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	VisibilityTimeout time.Duration
	MaxAttempts       int
	DBTimeout         time.Duration
	BusTimeout        time.Duration
}

// Reader claims unprocessed outbox rows and forwards them to the stream bus
// with at-least-once semantics. Several readers may run concurrently; the
// SKIP-LOCKED claim serializes them per row.
type Reader struct {
	store   outbox.Store
	bus     streambus.Bus
	schemas *schema.Registry
	backoff *Backoff
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     ReaderConfig

	workerID      string
	lastLagUpdate time.Time
}

func NewReader(
	store outbox.Store,
	bus streambus.Bus,
	schemas *schema.Registry,
	backoff *Backoff,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg ReaderConfig,
) *Reader {
	host, _ := os.Hostname()
	return &Reader{
		store:    store,
		bus:      bus,
		schemas:  schemas,
		backoff:  backoff,
		logger:   logger.With("component", "outbox_reader"),
		metrics:  m,
		cfg:      cfg,
		workerID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Run polls at the configured cadence until the context is cancelled. The
// in-flight batch always finishes; claimed-but-unpublished rows are released
// on the way out.
func (r *Reader) Run(ctx context.Context) {
	r.logger.Info("OUTBOX_READER_STARTED",
		"worker_id", r.workerID,
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("OUTBOX_READER_STOPPED", "worker_id", r.workerID)
			return
		case <-ticker.C:
			if err := r.runOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// Database unavailable: back off one full poll and retry.
				// No data is lost; unclaimed rows stay claimable.
				r.logger.Error("OUTBOX_POLL_FAILED", "err", err)
			}
		}
	}
}

func (r *Reader) runOnce(ctx context.Context) error {
	claimCtx, cancel := context.WithTimeout(ctx, r.cfg.DBTimeout)
	batch, err := r.store.ClaimBatch(claimCtx, r.workerID, r.cfg.BatchSize, r.cfg.VisibilityTimeout)
	cancel()
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		r.updateLag(ctx)
		return nil
	}

	// Aggregates whose head failed in this batch: successors are deferred,
	// never published, so per-aggregate insertion order survives retries.
	blocked := make(map[string]time.Duration)

	for _, row := range batch {
		if ctx.Err() != nil {
			r.release(row)
			continue
		}

		key := row.TenantID + "/" + row.AggregateID
		if delay, bad := blocked[key]; bad {
			r.deferRow(row, delay)
			continue
		}

		if delay, ok := r.processRow(ctx, row); !ok {
			blocked[key] = delay
		}
	}

	r.updateLag(ctx)
	return nil
}

// processRow publishes one claimed row. It reports whether the aggregate may
// advance, and if not, how long its successors should wait.
func (r *Reader) processRow(ctx context.Context, row *outbox.Row) (time.Duration, bool) {
	env, err := row.Envelope()
	if err != nil {
		// Unparseable stored payload: retriable until attempts run out so
		// transient storage corruption gets its chance, then marked
		// permanently failed. With no decodable envelope, nothing is
		// appended to the DLQ.
		return r.failRow(ctx, row, nil, fmt.Errorf("%w: stored envelope: %v", event.ErrValidation, err))
	}

	if err := r.schemas.Validate(env); err != nil {
		if errors.Is(err, event.ErrUnknownEventType) {
			// Unknown on read side of the table: forward untouched.
			r.logger.Warn("OUTBOX_UNKNOWN_EVENT_TYPE",
				"event_id", env.EventID,
				"event_type", env.EventType,
				"schema_version", env.SchemaVersion,
			)
		} else {
			return r.failRow(ctx, row, env, err)
		}
	}

	busCtx, cancel := context.WithTimeout(ctx, r.cfg.BusTimeout)
	_, err = r.bus.Append(busCtx, event.TopicFor(env.EventType), env)
	cancel()
	if err != nil {
		return r.failRow(ctx, row, env, err)
	}

	// A crash right here leaves the row claimable again and produces
	// at-most-one duplicate on the bus, absorbed by consumer-side de-dup.
	markCtx, cancel := context.WithTimeout(ctx, r.cfg.DBTimeout)
	defer cancel()
	if err := r.store.MarkProcessed(markCtx, row.ID); err != nil {
		r.logger.Error("OUTBOX_MARK_FAILED", "id", row.ID, "err", err)
		return 0, false
	}
	return 0, true
}

func (r *Reader) failRow(ctx context.Context, row *outbox.Row, env *event.Envelope, cause error) (time.Duration, bool) {
	attempts := row.Attempts + 1
	markCtx, cancel := context.WithTimeout(ctx, r.cfg.DBTimeout)
	defer cancel()

	if attempts >= r.cfg.MaxAttempts {
		reason := ReasonExhausted
		if errors.Is(cause, event.ErrValidation) {
			reason = ReasonPoisonPayload
		}

		if env != nil {
			busCtx, cancelBus := context.WithTimeout(ctx, r.cfg.BusTimeout)
			_, dlqErr := r.bus.DeadLetter(busCtx, event.TopicFor(env.EventType), env, reason, attempts, "")
			cancelBus()
			if dlqErr != nil {
				// Keep the row retriable rather than lose the envelope.
				delay := r.backoff.Delay(row.Attempts)
				_ = r.store.MarkFailed(markCtx, row.ID, cause.Error(), delay)
				return delay, false
			}
		}

		if err := r.store.MarkPermanentlyFailed(markCtx, row.ID, "permanent: "+cause.Error()); err != nil {
			r.logger.Error("OUTBOX_MARK_FAILED", "id", row.ID, "err", err)
		}
		r.logger.Error("OUTBOX_ROW_QUARANTINED",
			"id", row.ID,
			"event_id", row.EventID,
			"attempts", attempts,
			"reason", cause.Error(),
		)
		return 0, false
	}

	delay := r.backoff.Delay(row.Attempts)
	if err := r.store.MarkFailed(markCtx, row.ID, cause.Error(), delay); err != nil {
		r.logger.Error("OUTBOX_MARK_FAILED", "id", row.ID, "err", err)
	}
	r.logger.Warn("OUTBOX_PUBLISH_RETRY",
		"id", row.ID,
		"event_id", row.EventID,
		"attempt", attempts,
		"retry_in", delay,
		"err", cause,
	)
	return delay, false
}

func (r *Reader) deferRow(row *outbox.Row, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DBTimeout)
	defer cancel()
	if delay < r.cfg.PollInterval {
		delay = r.cfg.PollInterval
	}
	if err := r.store.Defer(ctx, row.ID, delay); err != nil {
		r.logger.Error("OUTBOX_DEFER_FAILED", "id", row.ID, "err", err)
	}
}

func (r *Reader) release(row *outbox.Row) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DBTimeout)
	defer cancel()
	_ = r.store.ReleaseLock(ctx, row.ID)
}

func (r *Reader) updateLag(ctx context.Context) {
	if time.Since(r.lastLagUpdate) < 5*time.Second {
		return
	}
	r.lastLagUpdate = time.Now()

	lagCtx, cancel := context.WithTimeout(ctx, r.cfg.DBTimeout)
	defer cancel()
	age, err := r.store.OldestUnprocessedAge(lagCtx)
	if err != nil {
		return
	}
	r.metrics.OutboxLagSeconds.Set(age.Seconds())
}
