// Package breaker isolates flaky downstreams behind a trip/half-open/close
// state machine. Handler tasks wrap their external calls here; the outbox
// reader does not (its retry policy already bounds bus failures).
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/sony/gobreaker"
)

type Settings struct {
	FailureRatio float64
	MinSamples   uint32
	CoolDown     time.Duration
	Window       time.Duration
}

// Breaker wraps a sony/gobreaker instance with manual override controls for
// the admin surface.
type Breaker struct {
	name     string
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cb     *gobreaker.CircuitBreaker
	forced atomic.Bool
}

func newBreaker(name string, s Settings, logger *slog.Logger, m *metrics.Metrics) *Breaker {
	b := &Breaker{
		name:     name,
		settings: s,
		logger:   logger,
		metrics:  m,
	}
	b.cb = b.build()
	return b
}

func (b *Breaker) build() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     b.name,
		Interval: b.settings.Window,
		Timeout:  b.settings.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.settings.MinSamples {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= b.settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("CIRCUIT_STATE_CHANGED",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			b.metrics.CircuitState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Execute runs fn under the breaker. While open — tripped or forced — every
// call short-circuits with ErrCircuitOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	if b.forced.Load() {
		return nil, event.ErrCircuitOpen
	}

	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	res, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, event.ErrCircuitOpen
	}
	return res, err
}

// State reports "closed", "half-open" or "open" (forced counts as open).
func (b *Breaker) State() string {
	if b.forced.Load() {
		return "open"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb.State().String()
}

// ForceOpen pins the breaker open until Reset, regardless of call outcomes.
func (b *Breaker) ForceOpen() {
	b.forced.Store(true)
	b.metrics.CircuitState.WithLabelValues(b.name).Set(2)
	b.logger.Warn("CIRCUIT_FORCED_OPEN", "name", b.name)
}

// Reset clears a forced or tripped state by rebuilding the state machine.
// Counters start fresh, matching the close-transition contract.
func (b *Breaker) Reset() {
	b.forced.Store(false)
	b.mu.Lock()
	b.cb = b.build()
	b.mu.Unlock()
	b.metrics.CircuitState.WithLabelValues(b.name).Set(0)
	b.logger.Info("CIRCUIT_RESET", "name", b.name)
}

// Manager is the named-breaker registry the admin surface operates on.
type Manager struct {
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewManager(s Settings, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		settings: s,
		logger:   logger.With("component", "breaker"),
		metrics:  m,
		breakers: make(map[string]*Breaker),
	}
}

func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, m.settings, m.logger, m.metrics)
	m.breakers[name] = b
	return b
}

func (m *Manager) Get(name string) (*Breaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[name]
	if !ok {
		return nil, fmt.Errorf("breaker: unknown circuit %q", name)
	}
	return b, nil
}

// States dumps every breaker state for the admin surface.
func (m *Manager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State()
	}
	return out
}
