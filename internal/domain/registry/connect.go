package registry

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ragline/delivery-service/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// Protocol names the push transport a connection speaks.
type Protocol string

const (
	ProtocolStream Protocol = "stream" // one-way event stream
	ProtocolSocket Protocol = "socket" // bidirectional socket
)

// OverflowPolicy decides what happens when the outbound queue is full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
	OverflowBlock      OverflowPolicy = "block"
)

// Close codes shared by both push protocols.
const (
	CloseNormal   = 1000
	ClosePolicy   = 1008 // credential failure / expiry
	CloseInternal = 1011 // server-side fatal
	CloseEviction = 4001 // tenant eviction, incl. queue overflow
	CloseLiveness = 4002 // missed heartbeat / pong
)

// CloseReason travels with the final frame of a connection.
type CloseReason struct {
	Code   int
	Reason string
}

// Delivery is one queued event together with its bus position, so the
// transport can advertise a resumable cursor to the client.
type Delivery struct {
	Envelope *event.Envelope
	Topic    event.Topic
	StreamID string
}

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (HUB/DISPATCHER/TRANSPORT)
// This allows mocking and decoupling from the concrete implementation.
type Connector interface {
	GetID() uuid.UUID
	GetTenantID() string
	GetUserID() string
	GetProtocol() Protocol

	Subscribe(filters ...string)
	Unsubscribe(filters ...string)
	Matches(eventType string) bool

	// Enqueue is single-producer (the dispatcher, or replay before attach).
	Enqueue(ctx context.Context, d Delivery) error
	// Recv is single-consumer (the transport writer goroutine).
	Recv() <-chan Delivery

	MarkDelivered(topic event.Topic, streamID string)
	LastEventID(topic event.Topic) string
	QueueLen() int

	Touch()
	LastActivity() time.Time
	Alive() bool
	Dropped() uint64

	// Close records the reason once; Done unblocks afterwards.
	Close(r CloseReason)
	Done() <-chan struct{}
	CloseInfo() CloseReason
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id       uuid.UUID
	tenantID string
	userID   string
	protocol Protocol

	overflow OverflowPolicy
	sendCh   chan Delivery

	mu     sync.RWMutex
	subs   map[string]struct{}
	cursor map[event.Topic]string
	reason CloseReason

	closeOnce sync.Once
	done      chan struct{}

	// [ATOMIC_FIELDS] Optimized for lock-free hot paths.
	lastActivityAt int64
	droppedCount   uint64
}

// ConnectConfig is the handshake-time identity and tuning of a connection.
type ConnectConfig struct {
	TenantID      string
	UserID        string
	Protocol      Protocol
	QueueCapacity int
	Overflow      OverflowPolicy
	Subscriptions []string
}

// NewConnector builds a live connection record. The record is exclusively
// owned by the registry; everything else addresses it by its ID.
func NewConnector(cfg ConnectConfig) Connector {
	c := &connect{
		id:       uuid.New(),
		tenantID: cfg.TenantID,
		userID:   cfg.UserID,
		protocol: cfg.Protocol,
		overflow: cfg.Overflow,
		sendCh:   make(chan Delivery, cfg.QueueCapacity),
		subs:     make(map[string]struct{}),
		cursor:   make(map[event.Topic]string),
		done:     make(chan struct{}),
	}
	atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())
	c.Subscribe(cfg.Subscriptions...)
	return c
}

func (c *connect) GetID() uuid.UUID      { return c.id }
func (c *connect) GetTenantID() string   { return c.tenantID }
func (c *connect) GetUserID() string     { return c.userID }
func (c *connect) GetProtocol() Protocol { return c.protocol }

func (c *connect) Subscribe(filters ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range filters {
		if f != "" {
			c.subs[f] = struct{}{}
		}
	}
}

func (c *connect) Unsubscribe(filters ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range filters {
		delete(c.subs, f)
	}
}

// Matches checks the event type against the subscription globs.
// A connection with no filters receives everything for its tenant.
func (c *connect) Matches(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	for g := range c.subs {
		if ok, err := path.Match(g, eventType); err == nil && ok {
			return true
		}
	}
	return false
}

// Enqueue pushes a delivery onto the bounded outbound queue, applying the
// configured overflow policy when the queue is saturated.
func (c *connect) Enqueue(ctx context.Context, d Delivery) error {
	select {
	case <-c.done:
		return event.ErrQueueOverflow
	default:
	}

	select {
	case c.sendCh <- d:
		c.Touch()
		return nil
	default:
	}

	switch c.overflow {
	case OverflowDropOldest:
		// [LOSSY_LATEST_WINS] Evict the head until the new delivery fits.
		// Single-producer, so the loop terminates after one eviction.
		for {
			select {
			case c.sendCh <- d:
				c.Touch()
				return nil
			default:
				select {
				case <-c.sendCh:
					atomic.AddUint64(&c.droppedCount, 1)
				default:
				}
			}
		}

	case OverflowBlock:
		// [BACKPRESSURE] Propagates to the dispatcher; only configured
		// together with ack_policy=all_connected.
		select {
		case c.sendCh <- d:
			c.Touch()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return event.ErrQueueOverflow
		}

	default: // OverflowDisconnect
		atomic.AddUint64(&c.droppedCount, 1)
		c.Close(CloseReason{Code: CloseEviction, Reason: "outbound queue overflow"})
		return event.ErrQueueOverflow
	}
}

func (c *connect) Recv() <-chan Delivery { return c.sendCh }

func (c *connect) QueueLen() int { return len(c.sendCh) }

// MarkDelivered advances the resumable cursor after a successful frame write.
func (c *connect) MarkDelivered(topic event.Topic, streamID string) {
	if streamID == "" {
		return
	}
	c.mu.Lock()
	c.cursor[topic] = streamID
	c.mu.Unlock()
}

func (c *connect) LastEventID(topic event.Topic) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor[topic]
}

func (c *connect) Touch() {
	atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())
}

func (c *connect) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivityAt))
}

func (c *connect) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *connect) Dropped() uint64 { return atomic.LoadUint64(&c.droppedCount) }

// Close terminates the session exactly once. The send channel is left open:
// the transport drains it via Done instead, which avoids a close/send race
// with a concurrent dispatcher enqueue.
func (c *connect) Close(r CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = r
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *connect) Done() <-chan struct{} { return c.done }

func (c *connect) CloseInfo() CloseReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}
