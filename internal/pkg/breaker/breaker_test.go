package breaker

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/stretchr/testify/require"
)

func newTestManager(coolDown time.Duration) *Manager {
	return NewManager(Settings{
		FailureRatio: 0.5,
		MinSamples:   20,
		CoolDown:     coolDown,
		Window:       30 * time.Second,
	}, slog.New(slog.DiscardHandler), metrics.New())
}

var errDownstream = errors.New("downstream failed")

func TestBreakerTripsOnFailureRatio(t *testing.T) {
	b := newTestManager(30 * time.Second).GetOrCreate("handler")

	// 15 failures out of 25 calls inside the window: ratio 0.6 over a
	// sufficient sample trips the circuit.
	for i := 0; i < 10; i++ {
		_, err := b.Execute(func() (any, error) { return nil, nil })
		require.NoError(t, err)
	}
	for i := 0; i < 15; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errDownstream })
	}

	require.Equal(t, "open", b.State())

	// Every subsequent call short-circuits without invoking the function.
	for i := 0; i < 10; i++ {
		called := false
		_, err := b.Execute(func() (any, error) { called = true; return nil, nil })
		require.ErrorIs(t, err, event.ErrCircuitOpen)
		require.False(t, called)
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	b := newTestManager(30 * time.Second).GetOrCreate("handler")

	for i := 0; i < 10; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errDownstream })
	}
	require.Equal(t, "closed", b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := newTestManager(50 * time.Millisecond).GetOrCreate("handler")

	for i := 0; i < 20; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errDownstream })
	}
	require.Equal(t, "open", b.State())

	time.Sleep(80 * time.Millisecond)

	// A successful probe after cool-down closes the circuit.
	_, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "closed", b.State())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b := newTestManager(50 * time.Millisecond).GetOrCreate("handler")

	for i := 0; i < 20; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errDownstream })
	}
	time.Sleep(80 * time.Millisecond)

	_, err := b.Execute(func() (any, error) { return nil, errDownstream })
	require.ErrorIs(t, err, errDownstream)
	require.Equal(t, "open", b.State())
}

func TestBreakerManualControls(t *testing.T) {
	m := newTestManager(30 * time.Second)
	b := m.GetOrCreate("handler")

	b.ForceOpen()
	require.Equal(t, "open", b.State())
	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.ErrorIs(t, err, event.ErrCircuitOpen)

	b.Reset()
	require.Equal(t, "closed", b.State())
	_, err = b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)

	states := m.States()
	require.Equal(t, "closed", states["handler"])

	_, err = m.Get("missing")
	require.Error(t, err)
}
