package worker

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays with full jitter:
// delay = min(cap, base * 2^attempt) * rand(0, 1).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	// rand overrides the jitter source in tests.
	rand func() float64
}

func NewBackoff(base, cap time.Duration) *Backoff {
	return &Backoff{Base: base, Cap: cap, rand: rand.Float64}
}

// Delay returns the wait before retry number attempt (zero-based: the first
// failure passes attempt 0).
func (b *Backoff) Delay(attempt int) time.Duration {
	ceiling := b.Cap
	// Shift saturates well before overflow: base<<attempt caps out at Cap.
	if attempt < 63 {
		if d := b.Base << uint(attempt); d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return time.Duration(b.rand() * float64(ceiling))
}
