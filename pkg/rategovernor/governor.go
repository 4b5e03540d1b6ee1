// Package rategovernor implements per-external-API rate limiting for the
// pipeline's outbound calls (source fetches, Analyzer calls, Dispatcher
// sends). Each named bucket picks one of the Limiter variants in this
// package; callers never see which.
package rategovernor

import (
	"context"
	"sync"
	"time"
)

// Decision is the result of an Acquire call.
type Decision struct {
	Permitted  bool
	RetryAfter time.Duration
}

// Limiter is satisfied by every rate-limiting strategy in this package.
type Limiter interface {
	// Acquire blocks until cost tokens/slots are available, the deadline
	// passes, or ctx is cancelled. A denied acquire never blocks past
	// deadline; it returns immediately with a RetryAfter hint instead.
	Acquire(ctx context.Context, cost int, deadline time.Time) Decision
}

// Governor owns a set of named buckets and dispatches Acquire/Penalize
// calls to the right one, creating buckets lazily from a factory so
// callers don't need to pre-register every account/destination up front.
type Governor struct {
	mu      sync.Mutex
	buckets map[string]Limiter
	newFn   func(bucket string) Limiter
}

// New creates a Governor whose buckets are created on first use via newFn,
// which receives the bucket name so a caller can hand out a different
// Limiter implementation per bucket (e.g. AdaptiveLimiter for "analyzer",
// plain TokenBucket for destination/account buckets).
func New(newFn func(bucket string) Limiter) *Governor {
	return &Governor{
		buckets: make(map[string]Limiter),
		newFn:   newFn,
	}
}

// Acquire requests cost units from the named bucket, creating it on first
// use. Satisfies pkg/ingest.RateGovernor and the analysis/dispatch
// equivalents via the Penalize/Acquire pair below.
func (g *Governor) Acquire(ctx context.Context, bucket string, cost int, deadline time.Time) Decision {
	return g.bucketFor(bucket).Acquire(ctx, cost, deadline)
}

// Penalize reports a rate-limit signal for bucket (e.g. an UPSTREAM_RATE_LIMIT
// classification), narrowing future throughput for at least retryAfter.
// Only AdaptiveLimiter buckets react; others ignore the signal.
func (g *Governor) Penalize(bucket string, retryAfter time.Duration) {
	if a, ok := g.bucketFor(bucket).(*AdaptiveLimiter); ok {
		a.Penalize(retryAfter)
	}
}

func (g *Governor) bucketFor(bucket string) Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.buckets[bucket]; ok {
		return l
	}
	l := g.newFn(bucket)
	g.buckets[bucket] = l
	return l
}
