package rategovernor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// AdaptiveLimiter wraps a TokenBucket whose rate self-adjusts from upstream
// signals: a Penalize call (driven by an UPSTREAM_RATE_LIMIT classification
// upstream, see pkg/relayerr) narrows the effective rate for a cooldown
// window, and a sony/gobreaker circuit breaker trips on a run of
// classified failures so Acquire denies immediately instead of letting
// callers queue into a known-bad upstream — grounded on the breaker
// Settings/ReadyToTrip shape jordigilh-kubernaut wires around its
// notification delivery path.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	base        *TokenBucket
	baseRate    float64
	narrowUntil time.Time

	breaker *gobreaker.CircuitBreaker[any]
}

// NewAdaptiveLimiter wraps a token bucket with the given steady-state rate
// and burst capacity.
func NewAdaptiveLimiter(rate, capacity float64) *AdaptiveLimiter {
	a := &AdaptiveLimiter{
		base:     NewTokenBucket(rate, capacity),
		baseRate: rate,
	}
	a.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "rategovernor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("rate governor breaker state change", "bucket", name, "from", from, "to", to)
		},
	})
	return a
}

// Acquire denies immediately (without consulting the token bucket) while
// the breaker is open, otherwise delegates to the wrapped bucket.
func (a *AdaptiveLimiter) Acquire(ctx context.Context, cost int, deadline time.Time) Decision {
	if a.breaker.State() == gobreaker.StateOpen {
		return Decision{Permitted: false, RetryAfter: 30 * time.Second}
	}
	return a.base.Acquire(ctx, cost, deadline)
}

// Penalize narrows the bucket's replenish rate to a quarter of baseline for
// at least retryAfter, and records a breaker failure so repeated penalties
// eventually trip the circuit.
func (a *AdaptiveLimiter) Penalize(retryAfter time.Duration) {
	a.mu.Lock()
	until := time.Now().Add(retryAfter)
	if until.After(a.narrowUntil) {
		a.narrowUntil = until
	}
	a.base.mu.Lock()
	a.base.rate = a.baseRate / 4
	a.base.mu.Unlock()
	a.mu.Unlock()

	_, _ = a.breaker.Execute(func() (any, error) {
		return nil, errRateLimited
	})

	time.AfterFunc(retryAfter, a.maybeRestoreRate)
}

// Observe records an upstream success, widening the rate back toward
// baseline once any narrow window has elapsed, and clearing the breaker's
// failure streak.
func (a *AdaptiveLimiter) Observe(success bool) {
	if success {
		_, _ = a.breaker.Execute(func() (any, error) { return nil, nil })
		a.maybeRestoreRate()
		return
	}
	_, _ = a.breaker.Execute(func() (any, error) { return nil, errRateLimited })
}

func (a *AdaptiveLimiter) maybeRestoreRate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Now().Before(a.narrowUntil) {
		return
	}
	a.base.mu.Lock()
	a.base.rate = a.baseRate
	a.base.mu.Unlock()
}

var errRateLimited = &rateLimitedError{}

type rateLimitedError struct{}

func (*rateLimitedError) Error() string { return "rate limited by upstream" }
