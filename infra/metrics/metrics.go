// Package metrics owns the process-wide Prometheus registry. Tests construct
// fresh instances; nothing registers into a global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the delivery core publishes.
type Metrics struct {
	registry *prometheus.Registry

	EventsProduced    *prometheus.CounterVec
	EventsConsumed    *prometheus.CounterVec
	DLQDepth          *prometheus.GaugeVec
	ConnectionsOpen   prometheus.Gauge
	OutboxLagSeconds  prometheus.Gauge
	StreamConsumerLag *prometheus.GaugeVec
	CircuitState      *prometheus.GaugeVec
	BusAppendDuration prometheus.Histogram
	PushQueueDepth    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		EventsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_produced_total",
			Help: "Envelopes accepted by the stream bus, by topic.",
		}, []string{"topic"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Entries read from consumer groups, by topic.",
		}, []string{"topic"}),
		DLQDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dlq_depth",
			Help: "Entries currently quarantined, by origin topic.",
		}, []string{"topic"}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connections_open",
			Help: "Live push connections.",
		}),
		OutboxLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_lag_seconds",
			Help: "Age of the oldest unprocessed outbox row.",
		}),
		StreamConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_consumer_lag",
			Help: "Pending entries per consumer group and topic.",
		}, []string{"group", "topic"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_state",
			Help: "Breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		BusAppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bus_append_duration_seconds",
			Help:    "Latency of stream bus appends.",
			Buckets: prometheus.DefBuckets,
		}),
		PushQueueDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_queue_depth",
			Help:    "Outbound queue depth sampled at enqueue time.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
	}

	reg.MustRegister(
		m.EventsProduced,
		m.EventsConsumed,
		m.DLQDepth,
		m.ConnectionsOpen,
		m.OutboxLagSeconds,
		m.StreamConsumerLag,
		m.CircuitState,
		m.BusAppendDuration,
		m.PushQueueDepth,
	)
	return m
}

// Handler exposes the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
