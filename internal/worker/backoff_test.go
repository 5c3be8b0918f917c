package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffFullJitterBounds(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)

	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, 60*time.Second)
		}
	}
}

func TestBackoffExponentialCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)
	b.rand = func() float64 { return 1.0 }

	require.Equal(t, time.Second, b.Delay(0))
	require.Equal(t, 2*time.Second, b.Delay(1))
	require.Equal(t, 8*time.Second, b.Delay(3))
	// Past the cap the ceiling flattens.
	require.Equal(t, 60*time.Second, b.Delay(6))
	require.Equal(t, 60*time.Second, b.Delay(40))
	require.Equal(t, 60*time.Second, b.Delay(100))
}

func TestBackoffJitterScalesCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)
	b.rand = func() float64 { return 0.5 }

	require.Equal(t, 500*time.Millisecond, b.Delay(0))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 30*time.Second, b.Delay(10))
}
