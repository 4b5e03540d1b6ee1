package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relaycove/signalrelay/pkg/metrics"
	"github.com/relaycove/signalrelay/pkg/rategovernor"
	"github.com/relaycove/signalrelay/pkg/store"
)

// Store is the narrow persistence capability a Worker needs.
type Store interface {
	ClaimForDispatch(ctx context.Context, workerID string, limit int) ([]store.Post, error)
	CompleteDispatch(ctx context.Context, rec *store.DispatchRecord) error
	FailDispatch(ctx context.Context, rec *store.DispatchRecord, retryAfter *time.Time) error
	DispatchAttempts(ctx context.Context, postID, destination string) (int, error)
	GetAnalysis(ctx context.Context, postID string) (*store.Analysis, error)
}

// SettingStore resolves the runtime-editable dispatch-gating knobs, read
// once per claim batch rather than per post.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Status is a Worker's idle/working state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Config bundles a dispatch Worker's tunables, including the Snapshot
// fallback values for the two notification-gating flags that SettingStore
// may override at claim time.
type Config struct {
	Batch                int
	MaxRetries           int
	MaxBackoff           time.Duration
	NotificationsEnabled bool
	NotifyOnlyAnalyzed   bool
}

// gating is the per-claim-resolved dispatch gating state (spec.md §4.4:
// "emit to DispatchQueue unless notifications are disabled"; §6's config
// table: notifications_enabled/notify_only_analyzed control dispatch
// gating).
type gating struct {
	notificationsEnabled bool
	notifyOnlyAnalyzed   bool
	maxRetries           int
}

// Worker claims a batch of ANALYZED posts in created_at order and sends
// each through every configured Dispatcher, honoring per-destination
// token-bucket pacing via the shared Governor. Mirrors
// pkg/analysis.Worker's claim/process/complete shape.
type Worker struct {
	id          string
	store       Store
	settings    SettingStore
	dispatchers []Dispatcher
	governor    *rategovernor.Governor
	cfg         Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         Status
	currentPostID  string
	postsProcessed int
	lastActivity   time.Time
}

// NewWorker constructs a Worker. governor may be nil (no pacing); settings
// may be nil (gating flags then always fall back to cfg's Snapshot values).
func NewWorker(id string, st Store, settings SettingStore, dispatchers []Dispatcher, governor *rategovernor.Governor, cfg Config) *Worker {
	return &Worker{
		id:          id,
		store:       st,
		settings:    settings,
		dispatchers: dispatchers,
		governor:    governor,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		status:      StatusIdle,
	}
}

// Start begins the worker's poll loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current batch to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentPostID:  w.currentPostID,
		PostsProcessed: w.postsProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id, "component", "dispatch-worker")
	log.Info("dispatch worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("dispatch worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
			n, err := w.pollAndProcess(ctx)
			if err != nil {
				log.Error("dispatch batch failed", "error", err)
				w.sleep(time.Second)
				continue
			}
			if n == 0 {
				w.sleep(jitter(2 * time.Second))
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func jitter(base time.Duration) time.Duration {
	spread := time.Duration(rand.Int64N(int64(base) / 5))
	return base + spread
}

// pollAndProcess claims a batch, ordered ascending by created_at by the
// Store, and dispatches each post in that order to every destination —
// satisfying spec.md §4.5's per-destination FIFO ordering guarantee since
// within one claimed batch, posts are processed strictly in sequence.
func (w *Worker) pollAndProcess(ctx context.Context) (int, error) {
	g := w.resolveGating(ctx)
	if !g.notificationsEnabled {
		return 0, nil
	}

	posts, err := w.store.ClaimForDispatch(ctx, w.id, w.cfg.Batch)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	for _, p := range posts {
		w.processOne(ctx, p, g)
	}
	return len(posts), nil
}

// resolveGating reads the notification-gating flags from SettingStore once
// per claim batch (not per post or per operation), falling back to the
// Config defaults loaded from the Snapshot at startup.
func (w *Worker) resolveGating(ctx context.Context) gating {
	g := gating{
		notificationsEnabled: w.cfg.NotificationsEnabled,
		notifyOnlyAnalyzed:   w.cfg.NotifyOnlyAnalyzed,
		maxRetries:           w.cfg.MaxRetries,
	}
	if w.settings == nil {
		return g
	}
	if v, ok, err := w.settings.GetSetting(ctx, "notifications_enabled"); err == nil && ok {
		g.notificationsEnabled = v == "true"
	}
	if v, ok, err := w.settings.GetSetting(ctx, "notify_only_analyzed"); err == nil && ok {
		g.notifyOnlyAnalyzed = v == "true"
	}
	if v, ok, err := w.settings.GetSetting(ctx, "dispatch_max_retries"); err == nil && ok {
		var n int
		if _, scanErr := fmt.Sscan(v, &n); scanErr == nil && n >= 0 {
			g.maxRetries = n
		}
	}
	return g
}

func (w *Worker) processOne(ctx context.Context, p store.Post, g gating) {
	w.setStatus(StatusWorking, p.ID)
	defer w.setStatus(StatusIdle, "")

	log := slog.With("worker_id", w.id, "post_id", p.ID)

	a, err := w.store.GetAnalysis(ctx, p.ID)
	if err != nil {
		log.Warn("dispatching post without its analysis record", "error", err)
		a = nil
	}

	if g.notifyOnlyAnalyzed && (a == nil || a.OutputText == "") {
		log.Warn("notify_only_analyzed set but post has no analysis output, releasing back to analyzed")
		retryAfter := time.Now().Add(time.Minute)
		for _, d := range w.dispatchers {
			dest := d.Destination()
			attempts, _ := w.store.DispatchAttempts(ctx, p.ID, dest)
			w.release(ctx, p.ID, dest, attempts+1, "notify_only_analyzed: analysis missing", retryAfter)
		}
		return
	}

	text := renderMessage(p, a)

	for _, d := range w.dispatchers {
		w.sendToDestination(ctx, log, p, d, text, g.maxRetries)
	}

	w.mu.Lock()
	w.postsProcessed++
	w.mu.Unlock()
}

func (w *Worker) sendToDestination(ctx context.Context, log *slog.Logger, p store.Post, d Dispatcher, text string, maxRetries int) {
	dest := d.Destination()

	priorAttempts, err := w.store.DispatchAttempts(ctx, p.ID, dest)
	if err != nil {
		log.Error("failed to count prior dispatch attempts", "destination", dest, "error", err)
		priorAttempts = 0
	}
	attempt := priorAttempts + 1

	if w.governor != nil {
		deadline := time.Now().Add(30 * time.Second)
		dec := w.governor.Acquire(ctx, dest, 1, deadline)
		if !dec.Permitted {
			metrics.RecordThrottle(dest)
			w.release(ctx, p.ID, dest, attempt, "rate governor denied pacing slot", time.Now().Add(dec.RetryAfter))
			return
		}
	}

	sendTimer := metrics.NewTimer()
	outcome, sendErr := d.Send(ctx, p.ID, text)
	metrics.RecordDispatch(dest, outcomeLabel(outcome), sendTimer.Elapsed())
	rec := &store.DispatchRecord{
		PostID:        p.ID,
		Destination:   dest,
		AttemptNumber: attempt,
		SentAt:        time.Now(),
	}

	switch outcome {
	case OutcomeOK:
		rec.Outcome = store.OutcomeOK
		if err := w.store.CompleteDispatch(ctx, rec); err != nil {
			log.Error("failed to record completed dispatch", "destination", dest, "error", err)
		}
	case OutcomePermanentFail:
		detail := errDetail(sendErr)
		rec.Outcome = store.OutcomePermanentFail
		rec.ErrorDetail = &detail
		if err := w.store.FailDispatch(ctx, rec, nil); err != nil {
			log.Error("failed to record permanent dispatch failure", "destination", dest, "error", err)
		}
	default: // OutcomeTransientFail
		detail := errDetail(sendErr)
		rec.Outcome = store.OutcomeTransientFail
		rec.ErrorDetail = &detail
		if attempt >= maxRetries {
			if err := w.store.FailDispatch(ctx, rec, nil); err != nil {
				log.Error("failed to record exhausted dispatch retries", "destination", dest, "error", err)
			}
			return
		}
		retryAfter := time.Now().Add(w.backoffFor(attempt))
		if err := w.store.FailDispatch(ctx, rec, &retryAfter); err != nil {
			log.Error("failed to release transient dispatch failure", "destination", dest, "error", err)
		}
	}
}

// release records a rate-governor denial the same way a transient failure
// is recorded, so the post returns to ANALYZED-eligible after retryAfter.
func (w *Worker) release(ctx context.Context, postID, dest string, attempt int, reason string, retryAfter time.Time) {
	rec := &store.DispatchRecord{
		PostID:        postID,
		Destination:   dest,
		AttemptNumber: attempt,
		Outcome:       store.OutcomeTransientFail,
		ErrorDetail:   &reason,
		SentAt:        time.Now(),
	}
	if err := w.store.FailDispatch(ctx, rec, &retryAfter); err != nil {
		slog.Error("failed to release rate-limited dispatch claim", "post_id", postID, "error", err)
	}
}

// backoffFor computes an exponential delay for the given attempt, capped
// at cfg.MaxBackoff, via cenkalti/backoff/v4's ExponentialBackOff —
// grounded on spec.md §4.5's "exponential back-off capped at max_backoff".
func (w *Worker) backoffFor(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Second
	eb.MaxInterval = w.cfg.MaxBackoff
	eb.MaxElapsedTime = 0 // never auto-stop; MaxRetries governs attempts instead

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d <= 0 || d > w.cfg.MaxBackoff {
		d = w.cfg.MaxBackoff
	}
	return d
}

func outcomeLabel(o Outcome) string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomePermanentFail:
		return "permanent_fail"
	default:
		return "transient_fail"
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (w *Worker) setStatus(s Status, postID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
	w.currentPostID = postID
	w.lastActivity = time.Now()
}

// renderMessage combines the original post text, the analysis output, and
// a metadata footer (spec.md §4.5 step 1). Intentionally plain text
// (spec.md §6: "plain text by default; optional light markup when enabled
// in settings"). Destination truncation per platform cap happens in each
// Dispatcher implementation, which knows its own limit.
func renderMessage(p store.Post, a *store.Analysis) string {
	var b strings.Builder
	b.WriteString(p.Text)
	if a != nil && a.OutputText != "" {
		b.WriteString("\n\n")
		b.WriteString(a.OutputText)
	}
	b.WriteString(fmt.Sprintf("\n\n- %s (%s)", p.Account, p.CreatedAt.Format(time.RFC3339)))
	return b.String()
}
