package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycove/signalrelay/pkg/relayerr"
	"github.com/relaycove/signalrelay/pkg/store"
)

type fakeStore struct {
	mu        sync.Mutex
	claimable []store.Post
	completed []*store.DispatchRecord
	failed    []*store.DispatchRecord
	attempts  map[string]int
	analyses  map[string]*store.Analysis
}

func (f *fakeStore) ClaimForDispatch(ctx context.Context, workerID string, limit int) ([]store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.claimable) == 0 {
		return nil, nil
	}
	n := min(limit, len(f.claimable))
	claimed := f.claimable[:n]
	f.claimable = f.claimable[n:]
	return claimed, nil
}

func (f *fakeStore) CompleteDispatch(ctx context.Context, rec *store.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, rec)
	return nil
}

func (f *fakeStore) FailDispatch(ctx context.Context, rec *store.DispatchRecord, retryAfter *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, rec)
	return nil
}

func (f *fakeStore) DispatchAttempts(ctx context.Context, postID, destination string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[postID+"|"+destination], nil
}

func (f *fakeStore) GetAnalysis(ctx context.Context, postID string) (*store.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.analyses[postID]; ok {
		return a, nil
	}
	return nil, relayerr.Classify(relayerr.InputInvalid, "analysis not found", relayerr.ErrNotFound)
}

type fakeDispatcher struct {
	name    string
	outcome Outcome
	err     error
	sent    []string
}

func (f *fakeDispatcher) Destination() string { return f.name }

func (f *fakeDispatcher) Send(ctx context.Context, postID, text string) (Outcome, error) {
	f.sent = append(f.sent, postID)
	return f.outcome, f.err
}

var enabledCfg = Config{Batch: 10, MaxRetries: 3, MaxBackoff: time.Minute, NotificationsEnabled: true}

func TestWorkerDispatchesClaimedPostsToCompletion(t *testing.T) {
	fs := &fakeStore{claimable: []store.Post{{ID: "p1", Text: "hello"}}, attempts: map[string]int{}}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomeOK}
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, enabledCfg)

	n, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.completed, 1)
	assert.Equal(t, "p1", fs.completed[0].PostID)
	assert.Equal(t, 1, fs.completed[0].AttemptNumber)
	assert.Equal(t, []string{"p1"}, d.sent)
}

func TestWorkerDispatchesInClaimedOrderPerDestination(t *testing.T) {
	fs := &fakeStore{
		claimable: []store.Post{{ID: "p1", Text: "a"}, {ID: "p2", Text: "b"}, {ID: "p3", Text: "c"}},
		attempts:  map[string]int{},
	}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomeOK}
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, enabledCfg)

	_, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, d.sent)
}

func TestWorkerRetriesTransientFailureWithBackoff(t *testing.T) {
	fs := &fakeStore{claimable: []store.Post{{ID: "p1", Text: "hello"}}, attempts: map[string]int{}}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomeTransientFail, err: assert.AnError}
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, enabledCfg)

	_, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.failed, 1)
	assert.Equal(t, store.OutcomeTransientFail, fs.failed[0].Outcome)
	assert.Empty(t, fs.completed)
}

func TestWorkerStopsRetryingAfterMaxRetriesExhausted(t *testing.T) {
	fs := &fakeStore{
		claimable: []store.Post{{ID: "p1", Text: "hello"}},
		attempts:  map[string]int{"p1|slack:C1": 3},
	}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomeTransientFail, err: assert.AnError}
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, enabledCfg)

	_, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.failed, 1)
	assert.Equal(t, 4, fs.failed[0].AttemptNumber)
}

func TestWorkerRecordsPermanentFailureWithoutRetry(t *testing.T) {
	fs := &fakeStore{claimable: []store.Post{{ID: "p1", Text: "hello"}}, attempts: map[string]int{}}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomePermanentFail, err: assert.AnError}
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, enabledCfg)

	_, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.failed, 1)
	assert.Equal(t, store.OutcomePermanentFail, fs.failed[0].Outcome)
}

func TestWorkerSkipsDispatchWhenNotificationsDisabled(t *testing.T) {
	fs := &fakeStore{claimable: []store.Post{{ID: "p1", Text: "hello"}}, attempts: map[string]int{}}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomeOK}
	cfg := enabledCfg
	cfg.NotificationsEnabled = false
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, cfg)

	n, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, d.sent)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Len(t, fs.claimable, 1, "post is never claimed while notifications are disabled")
}

func TestWorkerNotifyOnlyAnalyzedReleasesPostMissingAnalysis(t *testing.T) {
	fs := &fakeStore{claimable: []store.Post{{ID: "p1", Text: "hello"}}, attempts: map[string]int{}}
	d := &fakeDispatcher{name: "slack:C1", outcome: OutcomeOK}
	cfg := enabledCfg
	cfg.NotifyOnlyAnalyzed = true
	w := NewWorker("w1", fs, nil, []Dispatcher{d}, nil, cfg)

	_, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	assert.Empty(t, d.sent, "dispatcher is never called for a post with no analysis output")
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.failed, 1)
	assert.Equal(t, store.OutcomeTransientFail, fs.failed[0].Outcome)
}

func TestRenderMessageCombinesTextAnalysisAndMetadata(t *testing.T) {
	p := store.Post{
		ID:        "p1",
		Account:   "acme",
		Text:      "original post text",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	a := &store.Analysis{PostID: "p1", OutputText: "summary of the post"}

	msg := renderMessage(p, a)

	assert.Contains(t, msg, "original post text")
	assert.Contains(t, msg, "summary of the post")
	assert.Contains(t, msg, "acme")
	assert.Contains(t, msg, "2026-01-02T03:04:05Z")
}

func TestRenderMessageFallsBackToTextOnlyWithoutAnalysis(t *testing.T) {
	p := store.Post{ID: "p1", Account: "acme", Text: "original post text", CreatedAt: time.Now()}

	msg := renderMessage(p, nil)

	assert.Contains(t, msg, "original post text")
	assert.Contains(t, msg, "acme")
}
