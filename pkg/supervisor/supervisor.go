// Package supervisor wires the pipeline's components together and owns
// their startup order and graceful shutdown sequencing: stop intake first
// (SourceCoordinator), let the analysis and dispatch pools drain their
// current claims, then stop the retention sweeper; the caller closes the
// Store once Shutdown returns. Mirrors pkg/queue/pool.go's
// Start/Stop/WaitGroup shape, generalized from one worker fleet to the
// whole pipeline's set of long-running components.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/relaycove/signalrelay/pkg/analysis"
	"github.com/relaycove/signalrelay/pkg/dispatch"
	"github.com/relaycove/signalrelay/pkg/ingest"
	"github.com/relaycove/signalrelay/pkg/retention"
	"github.com/relaycove/signalrelay/pkg/source"
)

// maxConsecutiveFailures is how many times a monitored component may die in
// a row before the Supervisor gives up restarting it and escalates to the
// process's exitSupervisorUp contract (spec.md §4.7, cmd/signalrelay's
// exit code 4).
const maxConsecutiveFailures = 5

// restartBackoff is the restart delay schedule after a component death,
// doubling each consecutive failure and capped at 30s (spec.md §4.7).
var restartBackoff = []time.Duration{
	time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
}

// Supervisor owns the lifecycle of every long-running pipeline component
// except the HTTP API server, which the caller starts/stops separately
// since it must keep serving /health during a graceful shutdown.
type Supervisor struct {
	coordinator  *source.Coordinator
	ingest       *ingest.Pipeline
	analysisPool *analysis.Pool
	dispatchPool *dispatch.Pool
	retention    *retention.Service

	shutdownTimeout time.Duration
	stopping        atomic.Bool
	escalate        chan string
}

// New constructs a Supervisor over the already-built components.
func New(coord *source.Coordinator, ing *ingest.Pipeline, analysisPool *analysis.Pool, dispatchPool *dispatch.Pool, ret *retention.Service, shutdownTimeout time.Duration) *Supervisor {
	return &Supervisor{
		coordinator:     coord,
		ingest:          ing,
		analysisPool:    analysisPool,
		dispatchPool:    dispatchPool,
		retention:       ret,
		shutdownTimeout: shutdownTimeout,
		escalate:        make(chan string, 1),
	}
}

// Escalations reports when a supervised component has exhausted its
// restart budget and died maxConsecutiveFailures times in a row. The
// caller (cmd/signalrelay's main) should treat any receive as fatal and
// exit with exitSupervisorUp after the usual shutdown sequence.
func (s *Supervisor) Escalations() <-chan string {
	return s.escalate
}

// Start brings every component up in dependency order: retention sweeper
// and worker pools first (so they're ready the moment work arrives), then
// the ingest pipeline, then the coordinator last (nothing can be triggered
// before the pipeline that would consume the trigger exists). The ingest
// pipeline's Run loop is the one component Supervisor runs as a bare
// goroutine rather than through its own internal worker pool, so it's the
// one wrapped with restart-with-backoff supervision.
func (s *Supervisor) Start(ctx context.Context) {
	s.retention.Start(ctx)
	s.analysisPool.Start(ctx)
	s.dispatchPool.Start(ctx)
	s.runSupervised(ctx, "ingest-pipeline", s.ingest.Run)
	s.coordinator.Start(ctx)
	slog.Info("supervisor: all components started")
}

// runSupervised runs fn in a goroutine, restarting it with capped
// exponential backoff if it panics or returns while the process isn't
// shutting down, and escalating via s.escalate after maxConsecutiveFailures
// in a row.
func (s *Supervisor) runSupervised(ctx context.Context, name string, fn func(ctx context.Context)) {
	go func() {
		failures := 0
		for {
			clean := s.runOnce(ctx, name, fn)
			if clean {
				return
			}
			failures++
			if failures >= maxConsecutiveFailures {
				slog.Error("supervisor: component exceeded restart budget, escalating",
					"component", name, "failures", failures)
				select {
				case s.escalate <- name:
				default:
				}
				return
			}

			backoff := restartBackoff[min(failures-1, len(restartBackoff)-1)]
			slog.Warn("supervisor: component died, restarting after backoff",
				"component", name, "failures", failures, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

// runOnce runs fn to completion, recovering a panic so one component's
// crash can never take down the whole process directly. Reports whether
// the exit was clean (ctx cancelled or Shutdown already in progress — no
// restart needed) or a failure (unexpected return or panic — restart).
func (s *Supervisor) runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("supervisor: component panicked", "component", name, "panic", r)
			clean = false
		}
	}()
	fn(ctx)
	return ctx.Err() != nil || s.stopping.Load()
}

// Shutdown stops components in reverse dependency order with a bounded
// deadline: intake first (no new triggers), then let in-flight claims
// drain from the worker pools, then the retention sweeper. The Store
// itself is closed by the caller after Shutdown returns, once nothing is
// using it anymore.
func (s *Supervisor) Shutdown() {
	s.stopping.Store(true)
	deadline := time.Now().Add(s.shutdownTimeout)

	slog.Info("supervisor: stopping source intake")
	s.coordinator.Stop()

	slog.Info("supervisor: stopping ingest pipeline")
	s.ingest.Stop()

	s.stopWithDeadline("analysis pool", s.analysisPool.Stop, deadline)
	s.stopWithDeadline("dispatch pool", s.dispatchPool.Stop, deadline)

	slog.Info("supervisor: stopping retention sweeper")
	s.retention.Stop()

	slog.Info("supervisor: shutdown complete")
}

// stopWithDeadline runs stop in a goroutine and logs rather than blocks
// forever if it doesn't return before deadline — a stuck worker shouldn't
// prevent the process from exiting on SIGTERM.
func (s *Supervisor) stopWithDeadline(name string, stop func(), deadline time.Time) {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("supervisor: stopped component", "component", name)
	case <-time.After(time.Until(deadline)):
		slog.Warn("supervisor: component did not stop before shutdown deadline", "component", name)
	}
}
