package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIngest(t *testing.T) {
	initial := testutil.ToFloat64(PostsIngestedTotal.WithLabelValues("acct_a"))
	RecordIngest("acct_a", false)
	assert.Equal(t, initial+1.0, testutil.ToFloat64(PostsIngestedTotal.WithLabelValues("acct_a")))
}

func TestRecordIngestDuplicate(t *testing.T) {
	initial := testutil.ToFloat64(PostsDuplicateTotal.WithLabelValues("acct_b"))
	RecordIngest("acct_b", true)
	assert.Equal(t, initial+1.0, testutil.ToFloat64(PostsDuplicateTotal.WithLabelValues("acct_b")))
}

func TestRecordAnalysis(t *testing.T) {
	initial := testutil.ToFloat64(AnalysesCompletedTotal.WithLabelValues("ok"))
	RecordAnalysis("ok", 250*time.Millisecond)
	assert.Equal(t, initial+1.0, testutil.ToFloat64(AnalysesCompletedTotal.WithLabelValues("ok")))
}

func TestSetAnalysisCost(t *testing.T) {
	SetAnalysisCost(4.5)
	assert.Equal(t, 4.5, testutil.ToFloat64(AnalysisCostTotalUSD))
	SetAnalysisCost(6.25)
	assert.Equal(t, 6.25, testutil.ToFloat64(AnalysisCostTotalUSD))
}

func TestRecordDispatch(t *testing.T) {
	initial := testutil.ToFloat64(DispatchAttemptsTotal.WithLabelValues("slack:C1", "ok"))
	RecordDispatch("slack:C1", "ok", 100*time.Millisecond)
	assert.Equal(t, initial+1.0, testutil.ToFloat64(DispatchAttemptsTotal.WithLabelValues("slack:C1", "ok")))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth("analyzing", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(QueueDepth.WithLabelValues("analyzing")))
}

func TestRecordThrottle(t *testing.T) {
	initial := testutil.ToFloat64(RateGovernorThrottledTotal.WithLabelValues("slack:C1"))
	RecordThrottle("slack:C1")
	assert.Equal(t, initial+1.0, testutil.ToFloat64(RateGovernorThrottledTotal.WithLabelValues("slack:C1")))
}

func TestRecordOrphanReleaseIgnoresNonPositive(t *testing.T) {
	initial := testutil.ToFloat64(OrphansReleasedTotal)
	RecordOrphanRelease(0)
	assert.Equal(t, initial, testutil.ToFloat64(OrphansReleasedTotal))
	RecordOrphanRelease(3)
	assert.Equal(t, initial+3.0, testutil.ToFloat64(OrphansReleasedTotal))
}

func TestRecordPurge(t *testing.T) {
	initial := testutil.ToFloat64(PostsPurgedTotal)
	RecordPurge(5)
	assert.Equal(t, initial+5.0, testutil.ToFloat64(PostsPurgedTotal))
}

func TestTimerElapsed(t *testing.T) {
	timer := NewTimer()
	assert.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())

	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	assert.True(t, elapsed >= 10*time.Millisecond)
}
