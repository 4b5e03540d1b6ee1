// Package metrics exposes signalrelay's Prometheus metrics: queue depths,
// rate-governor throttling, dispatch outcomes, and cumulative analysis
// cost, alongside a standalone /metrics HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PostsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrelay_posts_ingested_total",
		Help: "Total posts ingested, labeled by source account.",
	}, []string{"account"})

	PostsDuplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrelay_posts_duplicate_total",
		Help: "Total ingest attempts that matched an already-known post.",
	}, []string{"account"})

	AnalysesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrelay_analyses_completed_total",
		Help: "Total analysis attempts, labeled by outcome (ok, transient_fail, permanent_fail).",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signalrelay_analysis_duration_seconds",
		Help:    "Time spent running a single post analysis.",
		Buckets: prometheus.DefBuckets,
	})

	AnalysisCostTotalUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalrelay_analysis_cost_usd_today",
		Help: "Cumulative analysis cost incurred so far in the current cost-ceiling window.",
	})

	DispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrelay_dispatch_attempts_total",
		Help: "Total dispatch attempts, labeled by destination and outcome.",
	}, []string{"destination", "outcome"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signalrelay_dispatch_duration_seconds",
		Help:    "Time spent sending a post to a single destination.",
		Buckets: prometheus.DefBuckets,
	}, []string{"destination"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signalrelay_queue_depth",
		Help: "Number of posts currently sitting in a given pipeline status.",
	}, []string{"status"})

	RateGovernorThrottledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrelay_rate_governor_throttled_total",
		Help: "Total send attempts delayed by the per-destination rate governor.",
	}, []string{"destination"})

	OrphansReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalrelay_orphans_released_total",
		Help: "Total posts reclaimed from a stale in-flight claim by the retention sweeper.",
	})

	PostsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalrelay_posts_purged_total",
		Help: "Total terminal posts removed by the retention sweeper.",
	})
)

// RecordIngest increments the ingested/duplicate counters for account.
func RecordIngest(account string, duplicate bool) {
	if duplicate {
		PostsDuplicateTotal.WithLabelValues(account).Inc()
		return
	}
	PostsIngestedTotal.WithLabelValues(account).Inc()
}

// RecordAnalysis records a completed analysis attempt and its duration.
func RecordAnalysis(outcome string, d time.Duration) {
	AnalysesCompletedTotal.WithLabelValues(outcome).Inc()
	AnalysisDuration.Observe(d.Seconds())
}

// SetAnalysisCost sets the cumulative daily analysis cost gauge.
func SetAnalysisCost(usd float64) {
	AnalysisCostTotalUSD.Set(usd)
}

// RecordDispatch records a dispatch attempt to destination and its duration.
func RecordDispatch(destination, outcome string, d time.Duration) {
	DispatchAttemptsTotal.WithLabelValues(destination, outcome).Inc()
	DispatchDuration.WithLabelValues(destination).Observe(d.Seconds())
}

// SetQueueDepth sets the current queue depth gauge for status.
func SetQueueDepth(status string, depth int64) {
	QueueDepth.WithLabelValues(status).Set(float64(depth))
}

// RecordThrottle increments the rate-governor throttle counter for destination.
func RecordThrottle(destination string) {
	RateGovernorThrottledTotal.WithLabelValues(destination).Inc()
}

// RecordOrphanRelease increments the orphan-release counter by n.
func RecordOrphanRelease(n int64) {
	if n <= 0 {
		return
	}
	OrphansReleasedTotal.Add(float64(n))
}

// RecordPurge increments the purge counter by n.
func RecordPurge(n int64) {
	if n <= 0 {
		return
	}
	PostsPurgedTotal.Add(float64(n))
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time elapsed since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
