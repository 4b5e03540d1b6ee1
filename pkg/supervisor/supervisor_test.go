package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaycove/signalrelay/pkg/analysis"
	"github.com/relaycove/signalrelay/pkg/dispatch"
	"github.com/relaycove/signalrelay/pkg/ingest"
	"github.com/relaycove/signalrelay/pkg/retention"
	"github.com/relaycove/signalrelay/pkg/source"
	"github.com/relaycove/signalrelay/pkg/store"
)

type noopAnalysisStore struct{}

func (noopAnalysisStore) ClaimForAnalysis(ctx context.Context, workerID string, limit int) ([]store.Post, error) {
	return nil, nil
}
func (noopAnalysisStore) CompleteAnalysis(ctx context.Context, a *store.Analysis) error { return nil }
func (noopAnalysisStore) FailAnalysis(ctx context.Context, postID, reason string, retryAfter *time.Time) error {
	return nil
}
func (noopAnalysisStore) DailyCost(ctx context.Context, at time.Time) (float64, error) {
	return 0, nil
}

type noopSettingStore struct{}

func (noopSettingStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(ctx context.Context, prompt, model string, params map[string]any) (analysis.Result, error) {
	return analysis.Result{}, nil
}

type noopDispatchStore struct{}

func (noopDispatchStore) ClaimForDispatch(ctx context.Context, workerID string, limit int) ([]store.Post, error) {
	return nil, nil
}
func (noopDispatchStore) CompleteDispatch(ctx context.Context, rec *store.DispatchRecord) error {
	return nil
}
func (noopDispatchStore) FailDispatch(ctx context.Context, rec *store.DispatchRecord, retryAfter *time.Time) error {
	return nil
}
func (noopDispatchStore) DispatchAttempts(ctx context.Context, postID, destination string) (int, error) {
	return 0, nil
}
func (noopDispatchStore) GetAnalysis(ctx context.Context, postID string) (*store.Analysis, error) {
	return nil, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Destination() string { return "noop" }
func (noopDispatcher) Send(ctx context.Context, postID, text string) (dispatch.Outcome, error) {
	return dispatch.OutcomeOK, nil
}

type noopAccountLister struct{}

func (noopAccountLister) MonitoredAccounts(ctx context.Context) ([]source.AccountRef, error) {
	return nil, nil
}

type noopRetentionStore struct{}

func (noopRetentionStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (noopRetentionStore) ReleaseOrphans(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func buildTestSupervisor() *Supervisor {
	coord := source.NewCoordinator(noopAccountLister{}, time.Hour, time.Minute, 16)
	triggers := coord.Triggers()
	analysisOut := make(chan string, 16)

	pipeline := ingest.New(source.UnconfiguredClient{}, noopDispatchStoreAdapter{}, triggers, analysisOut, time.Hour, nil)

	analysisPool := analysis.NewPool("test-pod", noopAnalysisStore{}, noopSettingStore{}, noopAnalyzer{}, nil,
		analysis.Config{Model: "m", Prompt: "p", Timeout: time.Second, Batch: 1}, 1)

	dispatchPool := dispatch.NewPool("test-pod", noopDispatchStore{}, noopSettingStore{}, []dispatch.Dispatcher{noopDispatcher{}}, nil,
		dispatch.Config{Batch: 1, MaxRetries: 3, MaxBackoff: time.Second, NotificationsEnabled: true}, 1)

	retentionSvc := retention.NewService(retention.Config{
		RetentionWindow:  time.Hour,
		SweepInterval:    time.Hour,
		OrphanThreshold:  time.Hour,
		OrphanSweepEvery: time.Hour,
	}, noopRetentionStore{})

	return New(coord, pipeline, analysisPool, dispatchPool, retentionSvc, 2*time.Second)
}

// noopDispatchStoreAdapter satisfies ingest.Store (UpsertPost/MarkAccountPolled/GetAccount).
type noopDispatchStoreAdapter struct{}

func (noopDispatchStoreAdapter) UpsertPost(ctx context.Context, p *store.Post) (bool, error) {
	return false, nil
}
func (noopDispatchStoreAdapter) MarkAccountPolled(ctx context.Context, username string, lastSeenPostID *string) error {
	return nil
}
func (noopDispatchStoreAdapter) GetAccount(ctx context.Context, username string) (*store.Account, error) {
	return nil, nil
}

func TestSupervisor_StartAndShutdown(t *testing.T) {
	s := buildTestSupervisor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}
}

func TestSupervisor_RunSupervisedEscalatesAfterRepeatedFailures(t *testing.T) {
	original := restartBackoff
	restartBackoff = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	defer func() { restartBackoff = original }()

	s := buildTestSupervisor()
	ctx := context.Background()

	var calls atomic.Int32
	s.runSupervised(ctx, "flaky", func(ctx context.Context) {
		calls.Add(1)
		panic("boom")
	})

	select {
	case name := <-s.Escalations():
		assert.Equal(t, "flaky", name)
	case <-time.After(5 * time.Second):
		t.Fatal("expected escalation after repeated failures")
	}
	assert.EqualValues(t, maxConsecutiveFailures, calls.Load())
}

func TestSupervisor_RunSupervisedDoesNotEscalateOnGracefulStop(t *testing.T) {
	s := buildTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	s.runSupervised(ctx, "well-behaved", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})

	<-started
	cancel()

	select {
	case name := <-s.Escalations():
		t.Fatalf("unexpected escalation for %q on clean ctx cancellation", name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupervisor_RunOnceTreatsStoppingAsClean(t *testing.T) {
	s := buildTestSupervisor()
	s.stopping.Store(true)

	clean := s.runOnce(context.Background(), "during-shutdown", func(ctx context.Context) {})
	assert.True(t, clean, "a component exit during Shutdown must not be treated as a failure")
}

func TestSupervisor_ShutdownReturnsAfterStart(t *testing.T) {
	s := buildTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	s.Shutdown()

	assert.NotNil(t, s.coordinator)
}
