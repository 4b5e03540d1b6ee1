// Package retention periodically enforces data retention and stuck-claim
// recovery policies, a direct generalization of pkg/cleanup/service.go's
// ticker-driven sweep loop to signalrelay's two sweeps: purging terminal
// posts past their retention window, and releasing orphaned claims.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaycove/signalrelay/pkg/metrics"
)

// Store is the narrow persistence capability the sweeper needs.
type Store interface {
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
	ReleaseOrphans(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config bundles the sweeper's tunables, mirroring config.Snapshot's
// retention and orphan-recovery fields.
type Config struct {
	RetentionWindow  time.Duration
	SweepInterval    time.Duration
	OrphanThreshold  time.Duration
	OrphanSweepEvery time.Duration
}

// Service periodically:
//   - purges terminal posts (and their dependent rows) older than
//     RetentionWindow
//   - releases posts stuck in an in-flight claim past OrphanThreshold back
//     to a retryable state
//
// Both sweeps are idempotent and safe to run from multiple processes.
type Service struct {
	cfg   Config
	store Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg Config, store Store) *Service {
	return &Service{cfg: cfg, store: store}
}

// Start launches the background sweep loops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"retention_window", s.cfg.RetentionWindow,
		"sweep_interval", s.cfg.SweepInterval,
		"orphan_threshold", s.cfg.OrphanThreshold,
		"orphan_sweep_interval", s.cfg.OrphanSweepEvery)
}

// Stop signals both sweep loops to exit and waits for them to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runPurgeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runOrphanLoop(ctx)
	}()
	wg.Wait()
}

func (s *Service) runPurgeLoop(ctx context.Context) {
	s.purge(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

func (s *Service) runOrphanLoop(ctx context.Context) {
	s.releaseOrphans(ctx)

	ticker := time.NewTicker(s.cfg.OrphanSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.releaseOrphans(ctx)
		}
	}
}

func (s *Service) purge(ctx context.Context) {
	before := time.Now().Add(-s.cfg.RetentionWindow)
	n, err := s.store.PurgeBefore(ctx, before)
	if err != nil {
		slog.Error("retention: purge failed", "error", err)
		return
	}
	metrics.RecordPurge(n)
	if n > 0 {
		slog.Info("retention: purged terminal posts", "count", n)
	}
}

func (s *Service) releaseOrphans(ctx context.Context) {
	threshold := time.Now().Add(-s.cfg.OrphanThreshold)
	n, err := s.store.ReleaseOrphans(ctx, threshold)
	if err != nil {
		slog.Error("retention: orphan release failed", "error", err)
		return
	}
	metrics.RecordOrphanRelease(n)
	if n > 0 {
		slog.Warn("retention: released orphaned claims", "count", n)
	}
}
