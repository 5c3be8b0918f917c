package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/pkg/breaker"
)

// Alert flags a DLQ condition an operator should look at.
type Alert struct {
	Type     string      `json:"type"` // high_depth | old_entries | ingress_spike
	Severity string      `json:"severity"`
	Topic    event.Topic `json:"topic"`
	Message  string      `json:"message"`
	Value    float64     `json:"value"`
	RaisedAt time.Time   `json:"raised_at"`
}

type DLQConfig struct {
	DepthThreshold   int64
	AgeThreshold     time.Duration
	IngressThreshold float64 // entries per minute
	CheckInterval    time.Duration
}

// DLQManager watches the dead-letter streams and offers the reprocessing
// surface the admin API exposes.
type DLQManager struct {
	bus    streambus.Bus
	logger *slog.Logger
	cfg    DLQConfig

	// busBreaker isolates the reprocessing surface from a flapping bus:
	// a burst of failed admin reprocesses trips it instead of hammering.
	busBreaker *breaker.Breaker

	mu        sync.Mutex
	lastDepth map[event.Topic]int64
	lastCheck time.Time
	alerts    []Alert
}

func NewDLQManager(bus streambus.Bus, logger *slog.Logger, breakers *breaker.Manager, cfg DLQConfig) *DLQManager {
	return &DLQManager{
		bus:        bus,
		logger:     logger.With("component", "dlq"),
		busBreaker: breakers.GetOrCreate("stream-bus"),
		cfg:        cfg,
		lastDepth:  make(map[event.Topic]int64),
	}
}

// Run evaluates alert conditions on a fixed cadence.
func (m *DLQManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *DLQManager) check(ctx context.Context) {
	now := time.Now()
	var alerts []Alert

	m.mu.Lock()
	elapsed := now.Sub(m.lastCheck)
	m.lastCheck = now
	m.mu.Unlock()

	for _, topic := range event.Topics() {
		depth, err := m.bus.DLQDepth(ctx, topic)
		if err != nil {
			m.logger.Warn("DLQ_DEPTH_CHECK_FAILED", "topic", topic, "err", err)
			continue
		}

		if depth > m.cfg.DepthThreshold {
			alerts = append(alerts, Alert{
				Type:     "high_depth",
				Severity: "warning",
				Topic:    topic,
				Message:  fmt.Sprintf("DLQ %s holds %d entries (threshold %d)", topic, depth, m.cfg.DepthThreshold),
				Value:    float64(depth),
				RaisedAt: now,
			})
		}

		if head, err := m.bus.DLQList(ctx, topic, 1); err == nil && len(head) > 0 {
			if age := now.Sub(head[0].FirstFailedAt); !head[0].FirstFailedAt.IsZero() && age > m.cfg.AgeThreshold {
				alerts = append(alerts, Alert{
					Type:     "old_entries",
					Severity: "error",
					Topic:    topic,
					Message:  fmt.Sprintf("oldest DLQ entry on %s is %s old (threshold %s)", topic, age.Round(time.Minute), m.cfg.AgeThreshold),
					Value:    age.Seconds(),
					RaisedAt: now,
				})
			}
		}

		m.mu.Lock()
		prev, tracked := m.lastDepth[topic]
		m.lastDepth[topic] = depth
		m.mu.Unlock()

		if tracked && elapsed > 0 {
			perMinute := float64(depth-prev) / elapsed.Minutes()
			if perMinute > m.cfg.IngressThreshold {
				alerts = append(alerts, Alert{
					Type:     "ingress_spike",
					Severity: "critical",
					Topic:    topic,
					Message:  fmt.Sprintf("DLQ %s ingress %.1f/min (threshold %.1f)", topic, perMinute, m.cfg.IngressThreshold),
					Value:    perMinute,
					RaisedAt: now,
				})
			}
		}
	}

	for _, a := range alerts {
		m.logger.Warn("DLQ_ALERT", "type", a.Type, "severity", a.Severity, "topic", a.Topic, "msg", a.Message)
	}

	m.mu.Lock()
	m.alerts = alerts
	m.mu.Unlock()
}

// Alerts returns the conditions raised by the latest check.
func (m *DLQManager) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

func (m *DLQManager) List(ctx context.Context, topic event.Topic, count int) ([]streambus.DLQEntry, error) {
	return m.bus.DLQList(ctx, topic, count)
}

// Reprocess moves one quarantined entry back onto its origin topic with a
// fresh attempt budget, then drops it from the DLQ. Consumer-side de-dup on
// event_id makes a repeated reprocess harmless.
func (m *DLQManager) Reprocess(ctx context.Context, topic event.Topic, id string) error {
	entries, err := m.bus.DLQList(ctx, topic, 1000)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.ID != id {
			continue
		}
		if e.Envelope == nil {
			return fmt.Errorf("dlq: entry %s has no decodable envelope", id)
		}
		if _, err := m.busBreaker.Execute(func() (any, error) {
			return m.bus.Append(ctx, topic, e.Envelope)
		}); err != nil {
			return fmt.Errorf("dlq: reprocess append: %w", err)
		}
		if err := m.bus.DLQRemove(ctx, topic, id); err != nil {
			return fmt.Errorf("dlq: remove after reprocess: %w", err)
		}
		m.logger.Info("DLQ_REPROCESSED", "topic", topic, "id", id, "event_id", e.Envelope.EventID)
		return nil
	}
	return fmt.Errorf("dlq: entry %s not found on %s", id, topic)
}

// ReprocessMatching requeues every entry the filter accepts and reports how
// many moved.
func (m *DLQManager) ReprocessMatching(ctx context.Context, topic event.Topic, match func(streambus.DLQEntry) bool) (int, error) {
	entries, err := m.bus.DLQList(ctx, topic, 1000)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, e := range entries {
		if e.Envelope == nil || (match != nil && !match(e)) {
			continue
		}
		if err := m.Reprocess(ctx, topic, e.ID); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
