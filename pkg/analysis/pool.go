package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaycove/signalrelay/pkg/rategovernor"
)

// Pool manages a fixed-size fleet of analysis Workers, the same shape as
// pkg/queue/pool.go's WorkerPool.
type Pool struct {
	podID    string
	store    Store
	settings SettingStore
	analyzer Analyzer
	governor *rategovernor.Governor
	cfg      Config
	count    int

	workers []*Worker
	started bool
	mu      sync.Mutex
}

// NewPool creates a Pool of count workers sharing one Analyzer instance.
func NewPool(podID string, st Store, settings SettingStore, analyzer Analyzer, governor *rategovernor.Governor, cfg Config, count int) *Pool {
	return &Pool{
		podID:    podID,
		store:    st,
		settings: settings,
		analyzer: analyzer,
		governor: governor,
		cfg:      cfg,
		count:    count,
		workers:  make([]*Worker, 0, count),
	}
}

// Start spawns all workers. Safe to call more than once; later calls no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("analysis pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting analysis pool", "pod_id", p.podID, "worker_count", p.count)
	for i := 0; i < p.count; i++ {
		id := fmt.Sprintf("%s-analysis-%d", p.podID, i)
		w := NewWorker(id, p.store, p.settings, p.analyzer, p.governor, p.cfg)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	slog.Info("stopping analysis pool")
	for _, w := range workers {
		w.Stop()
	}
	slog.Info("analysis pool stopped")
}

// Health aggregates per-worker health plus today's spend against the
// configured ceiling.
func (p *Pool) Health(ctx context.Context) *PoolHealth {
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

	spent, _ := p.store.DailyCost(ctx, time.Now())
	ceilingHit := false
	if len(workers) > 0 {
		_, ceilingHit = workers[0].costCeilingHit(ctx)
	}
	return &PoolHealth{
		ActiveWorkers:  active,
		TotalWorkers:   len(workers),
		WorkerStats:    stats,
		DailyCostUSD:   spent,
		CostCeilingHit: ceilingHit,
	}
}
