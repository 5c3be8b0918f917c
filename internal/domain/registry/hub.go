package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const shardCount = 32

// TenantSignal tells interested consumers (the dispatcher manager) that a
// tenant gained its first connection. The hub never calls into the
// dispatcher directly.
type TenantSignal struct {
	TenantID string
}

// TenantStats is the per-tenant slice of a registry dump.
type TenantStats struct {
	Connections int    `json:"connections"`
	Dropped     uint64 `json:"dropped"`
}

// Stats is the admin-facing registry dump.
type Stats struct {
	Tenants     int                    `json:"tenants"`
	Connections int                    `json:"connections"`
	PerTenant   map[string]TenantStats `json:"per_tenant"`
}

// Hubber defines the gateway for connection management and fan-out lookup.
type Hubber interface {
	Register(conn Connector)
	Unregister(tenantID string, connID uuid.UUID, r CloseReason)
	ForEach(tenantID, eventType string, fn func(Connector) bool)
	ConnCount(tenantID string) int
	TenantSignals() <-chan TenantSignal
	Stats() Stats
	Shutdown()
}

type shard struct {
	mu    sync.RWMutex
	cells map[string]*Cell
}

// Hub implements a tenant-sharded connection registry.
type Hub struct {
	shards  [shardCount]*shard
	config  hubConfig
	signals chan TenantSignal

	janitorStop chan struct{}
	janitorOnce sync.Once
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config:      defaultConfig(),
		janitorStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i := range h.shards {
		h.shards[i] = &shard{cells: make(map[string]*Cell)}
	}
	h.signals = make(chan TenantSignal, h.config.signalBuffer)

	go h.janitor()
	return h
}

func (h *Hub) shardFor(tenantID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(tenantID))
	return h.shards[f.Sum32()%shardCount]
}

// Register attaches a connection to its tenant cell, creating the cell
// lazily. The first connection of a tenant emits a TenantSignal.
func (h *Hub) Register(conn Connector) {
	s := h.shardFor(conn.GetTenantID())

	s.mu.Lock()
	cell, ok := s.cells[conn.GetTenantID()]
	if !ok {
		cell = NewCell(conn.GetTenantID())
		s.cells[conn.GetTenantID()] = cell
	}
	s.mu.Unlock()

	first := cell.Len() == 0
	cell.Attach(conn)

	if first {
		// Non-blocking: a slow dispatcher manager must not stall handshakes.
		select {
		case h.signals <- TenantSignal{TenantID: conn.GetTenantID()}:
		default:
		}
	}
}

// Unregister closes the connection and purges the cell when it was the last.
func (h *Hub) Unregister(tenantID string, connID uuid.UUID, r CloseReason) {
	s := h.shardFor(tenantID)

	s.mu.RLock()
	cell, ok := s.cells[tenantID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	cell.mu.RLock()
	conn, live := cell.conns[connID]
	cell.mu.RUnlock()
	if live {
		conn.Close(r)
	}

	if cell.Detach(connID) {
		s.mu.Lock()
		if c, ok := s.cells[tenantID]; ok && c.Len() == 0 {
			delete(s.cells, tenantID)
		}
		s.mu.Unlock()
	}
}

// ForEach iterates live connections of a tenant whose filters match.
func (h *Hub) ForEach(tenantID, eventType string, fn func(Connector) bool) {
	s := h.shardFor(tenantID)
	s.mu.RLock()
	cell, ok := s.cells[tenantID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	cell.ForEach(eventType, fn)
}

func (h *Hub) ConnCount(tenantID string) int {
	s := h.shardFor(tenantID)
	s.mu.RLock()
	cell, ok := s.cells[tenantID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return cell.Len()
}

func (h *Hub) TenantSignals() <-chan TenantSignal { return h.signals }

func (h *Hub) Stats() Stats {
	st := Stats{PerTenant: make(map[string]TenantStats)}
	for _, s := range h.shards {
		s.mu.RLock()
		for tenant, cell := range s.cells {
			ts := TenantStats{Connections: cell.Len()}
			cell.ForAll(func(conn Connector) bool {
				ts.Dropped += conn.Dropped()
				return true
			})
			st.PerTenant[tenant] = ts
			st.Tenants++
			st.Connections += ts.Connections
		}
		s.mu.RUnlock()
	}
	return st
}

// janitor evicts connections with no activity beyond the idle timeout.
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.janitorStop:
			return
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) evictIdle() {
	cutoff := time.Now().Add(-h.config.idleTimeout)
	for _, s := range h.shards {
		s.mu.RLock()
		cells := make([]*Cell, 0, len(s.cells))
		for _, cell := range s.cells {
			cells = append(cells, cell)
		}
		s.mu.RUnlock()

		for _, cell := range cells {
			cell.ForAll(func(conn Connector) bool {
				if conn.LastActivity().Before(cutoff) {
					h.Unregister(conn.GetTenantID(), conn.GetID(),
						CloseReason{Code: CloseLiveness, Reason: "idle eviction"})
				}
				return true
			})
		}
	}
}

// Shutdown closes every connection and stops the janitor.
func (h *Hub) Shutdown() {
	h.janitorOnce.Do(func() { close(h.janitorStop) })
	for _, s := range h.shards {
		s.mu.Lock()
		for tenant, cell := range s.cells {
			cell.Stop(CloseReason{Code: CloseNormal, Reason: "server shutdown"})
			delete(s.cells, tenant)
		}
		s.mu.Unlock()
	}
}
