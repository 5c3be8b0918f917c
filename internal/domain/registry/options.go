package registry

import "time"

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	signalBuffer     int
}

func defaultConfig() hubConfig {
	return hubConfig{
		evictionInterval: 15 * time.Minute,
		idleTimeout:      30 * time.Minute,
		signalBuffer:     64,
	}
}

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithEvictionInterval configures how often the janitor scans for
// connections that went quiet without disconnecting.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.config.evictionInterval = d
	}
}

// WithIdleTimeout defines the quiet period after which a connection is
// evicted with a liveness close.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.idleTimeout = d
	}
}

// WithSignalBuffer sets the capacity of the tenant-activation channel.
func WithSignalBuffer(n int) Option {
	return func(h *Hub) {
		h.config.signalBuffer = n
	}
}
