/*
Package registry provides the in-memory directory of live push connections.

Key architectural concepts:
  - Tenant Cells: every active tenant is represented by an isolated 'Cell'
    that indexes all live connections (stream and socket) for that tenant.
  - Sharded locking: cells live in hash-sharded maps keyed by tenant_id, so
    registration churn for one tenant never contends with fan-out for another.
  - Weak coupling: dispatcher loops look connections up through the hub; the
    hub never holds references to dispatcher state.
*/
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Celler defines the internal API for tenant-scoped connection sets.
type Celler interface {
	Attach(conn Connector)
	Detach(connID uuid.UUID) bool
	ForEach(eventType string, fn func(Connector) bool)
	Len() int
	IsIdle(timeout time.Duration) bool
	Stop(r CloseReason)
}

// Cell indexes the live connections of a single tenant.
type Cell struct {
	tenantID string

	// [CONCURRENCY_CONTROL]
	// RWMutex because read-heavy fan-out outnumbers registration churn.
	mu    sync.RWMutex
	conns map[uuid.UUID]Connector

	lastActivityAt time.Time
}

func NewCell(tenantID string) *Cell {
	return &Cell{
		tenantID:       tenantID,
		conns:          make(map[uuid.UUID]Connector),
		lastActivityAt: time.Now(),
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.GetID()] = conn
	c.lastActivityAt = time.Now()
}

// Detach removes a connection and reports whether the cell is now empty.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, connID)
	c.lastActivityAt = time.Now()
	return len(c.conns) == 0
}

// ForEach visits every live connection whose filters match eventType.
// The callback returning false stops the walk. A snapshot is taken under the
// read lock so a slow callback never blocks registration.
func (c *Cell) ForEach(eventType string, fn func(Connector) bool) {
	c.mu.RLock()
	snapshot := make([]Connector, 0, len(c.conns))
	for _, conn := range c.conns {
		if conn.Alive() && conn.Matches(eventType) {
			snapshot = append(snapshot, conn)
		}
	}
	c.mu.RUnlock()

	for _, conn := range snapshot {
		if !fn(conn) {
			return
		}
	}
}

// ForAll visits every connection regardless of filters or liveness.
func (c *Cell) ForAll(fn func(Connector) bool) {
	c.mu.RLock()
	snapshot := make([]Connector, 0, len(c.conns))
	for _, conn := range c.conns {
		snapshot = append(snapshot, conn)
	}
	c.mu.RUnlock()

	for _, conn := range snapshot {
		if !fn(conn) {
			return
		}
	}
}

func (c *Cell) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns) == 0 && time.Since(c.lastActivityAt) > timeout
}

// Stop closes every connection still attached.
func (c *Cell) Stop(r CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Close(r)
	}
}
