// Package dispatcher runs one consumer-group loop per active tenant,
// translating bus entries into per-connection deliveries through the
// registry. Loops are created lazily on the tenant's first connection and
// shut down after a configurable idle grace period.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ragline/delivery-service/infra/metrics"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/registry"
)

type Config struct {
	AckPolicy      string // best_effort | all_connected
	IdleShutdown   time.Duration
	ClaimInterval  time.Duration
	ClaimMinIdle   time.Duration
	ReadCount      int
	BlockTimeout   time.Duration
	HandlerTimeout time.Duration
	DedupSize      int
}

// Manager owns the set of tenant loops. It discovers new tenants through the
// hub's activation signals; the hub itself never references the manager.
type Manager struct {
	bus     streambus.Bus
	hub     registry.Hubber
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func NewManager(bus streambus.Bus, hub registry.Hubber, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Manager {
	return &Manager{
		bus:     bus,
		hub:     hub,
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
		cfg:     cfg,
		loops:   make(map[string]context.CancelFunc),
	}
}

// Run consumes tenant activation signals until ctx is cancelled, then waits
// for every loop to finish its in-flight batch.
func (m *Manager) Run(ctx context.Context) {
	// Signals are emitted non-blocking and can be dropped under churn; a
	// periodic reconcile against the registry catches any missed tenant.
	reconcile := time.NewTicker(10 * time.Second)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case sig := <-m.hub.TenantSignals():
			m.ensure(ctx, sig.TenantID)
		case <-reconcile.C:
			for tenant, st := range m.hub.Stats().PerTenant {
				if st.Connections > 0 {
					m.ensure(ctx, tenant)
				}
			}
		}
	}
}

// ensure starts a loop for the tenant if none is running. Idempotent.
func (m *Manager) ensure(ctx context.Context, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.loops[tenantID]; running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.loops[tenantID] = cancel

	l := newLoop(tenantID, m.bus, m.hub, m.logger, m.metrics, m.cfg)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.loops, tenantID)
			m.mu.Unlock()
			cancel()
		}()
		l.run(loopCtx)
	}()

	m.logger.Info("DISPATCHER_LOOP_STARTED", "tenant_id", tenantID)
}

// ActiveLoops reports the tenants currently being dispatched.
func (m *Manager) ActiveLoops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenants := make([]string, 0, len(m.loops))
	for t := range m.loops {
		tenants = append(tenants, t)
	}
	return tenants
}
