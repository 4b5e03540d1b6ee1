package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaycove/signalrelay/pkg/rategovernor"
)

// Pool manages a fixed-size fleet of dispatch Workers, the same shape as
// pkg/analysis.Pool and the teacher's pkg/queue/pool.go.
type Pool struct {
	podID       string
	store       Store
	settings    SettingStore
	dispatchers []Dispatcher
	governor    *rategovernor.Governor
	cfg         Config
	count       int

	workers []*Worker
	started bool
	mu      sync.Mutex
}

// NewPool creates a Pool of count workers sharing the same Dispatcher set.
// settings may be nil (gating flags then always use cfg's Snapshot defaults).
func NewPool(podID string, st Store, settings SettingStore, dispatchers []Dispatcher, governor *rategovernor.Governor, cfg Config, count int) *Pool {
	return &Pool{
		podID:       podID,
		store:       st,
		settings:    settings,
		dispatchers: dispatchers,
		governor:    governor,
		cfg:         cfg,
		count:       count,
		workers:     make([]*Worker, 0, count),
	}
}

// Start spawns all workers. Safe to call more than once; later calls no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("dispatch pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting dispatch pool", "pod_id", p.podID, "worker_count", p.count)
	for i := 0; i < p.count; i++ {
		id := fmt.Sprintf("%s-dispatch-%d", p.podID, i)
		w := NewWorker(id, p.store, p.settings, p.dispatchers, p.governor, p.cfg)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	slog.Info("stopping dispatch pool")
	for _, w := range workers {
		w.Stop()
	}
	slog.Info("dispatch pool stopped")
}

// Health aggregates per-worker health.
func (p *Pool) Health() *PoolHealth {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	stats := make([]WorkerHealth, len(workers))
	active := 0
	for i, w := range workers {
		h := w.Health()
		stats[i] = h
		if h.Status == string(StatusWorking) {
			active++
		}
	}
	return &PoolHealth{ActiveWorkers: active, TotalWorkers: len(workers), WorkerStats: stats}
}
