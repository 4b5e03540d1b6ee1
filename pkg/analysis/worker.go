package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/relaycove/signalrelay/pkg/metrics"
	"github.com/relaycove/signalrelay/pkg/rategovernor"
	"github.com/relaycove/signalrelay/pkg/relayerr"
	"github.com/relaycove/signalrelay/pkg/store"
)

// Store is the narrow persistence capability a Worker needs.
type Store interface {
	ClaimForAnalysis(ctx context.Context, workerID string, limit int) ([]store.Post, error)
	CompleteAnalysis(ctx context.Context, a *store.Analysis) error
	FailAnalysis(ctx context.Context, postID, reason string, retryAfter *time.Time) error
	DailyCost(ctx context.Context, at time.Time) (float64, error)
}

// SettingStore resolves the runtime-editable analyzer knobs, read once per
// claim batch rather than per post.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Status is the idle/working state a Worker reports via Health.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Worker claims a batch of NEW posts, analyzes each, and writes the
// outcome back to Store. Mirrors pkg/queue/worker.go's
// Start/Stop/run/sleep/claim shape, generalized from one session per
// claim to a batch of posts per claim.
type Worker struct {
	id       string
	store    Store
	settings SettingStore
	analyzer Analyzer
	governor *rategovernor.Governor
	model    string
	prompt   string
	params   map[string]any
	timeout  time.Duration
	batch    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         Status
	currentPostID  string
	postsProcessed int
	lastActivity   time.Time
}

// Config bundles a Worker's tunables, resolved once when the Pool starts.
type Config struct {
	Model   string
	Prompt  string
	Params  map[string]any
	Timeout time.Duration
	Batch   int
}

// NewWorker constructs a Worker. governor may be nil (no rate limiting).
func NewWorker(id string, st Store, settings SettingStore, analyzer Analyzer, governor *rategovernor.Governor, cfg Config) *Worker {
	return &Worker{
		id:       id,
		store:    st,
		settings: settings,
		analyzer: analyzer,
		governor: governor,
		model:    cfg.Model,
		prompt:   cfg.Prompt,
		params:   cfg.Params,
		timeout:  cfg.Timeout,
		batch:    cfg.Batch,
		stopCh:   make(chan struct{}),
		status:   StatusIdle,
		lastActivity: time.Now(),
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
	log := slog.With("worker_id", w.id, "component", "analysis-worker")
	log.Info("analysis worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("analysis worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
			n, err := w.pollAndProcess(ctx)
			if err != nil {
				log.Error("analysis batch failed", "error", err)
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

// jitter adds up to 20% random spread to avoid thundering-herd polling
// across a pool of workers, matching the teacher's poll-interval jitter.
func jitter(base time.Duration) time.Duration {
	spread := time.Duration(rand.Int64N(int64(base) / 5))
	return base + spread
}

// pollAndProcess claims a batch and processes each post, returning how
// many were claimed (0 means nothing to do right now).
func (w *Worker) pollAndProcess(ctx context.Context) (int, error) {
	if _, hit := w.costCeilingHit(ctx); hit {
		return 0, nil
	}

	posts, err := w.store.ClaimForAnalysis(ctx, w.id, w.batch)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	cs := w.resolveClaimSettings(ctx)
	for _, p := range posts {
		w.processOne(ctx, p, cs)
	}
	return len(posts), nil
}

// claimSettings is the per-claim-resolved analyzer configuration: model,
// prompt template, and call params come from the Setting snapshot taken at
// claim time (spec.md §4.4 step 2, §9), not the static process-start
// Config, so an admin edit to these Setting rows takes effect on the next
// claim without a restart.
type claimSettings struct {
	model  string
	prompt string
	params map[string]any
}

// resolveClaimSettings reads analyzer_model/analyzer_prompt/analyzer_params
// from SettingStore once per claim batch, mirroring costCeilingHit's
// existing read-once-per-claim pattern, and falls back to the Config
// defaults loaded from the Snapshot at startup whenever a Setting is
// unset or malformed.
func (w *Worker) resolveClaimSettings(ctx context.Context) claimSettings {
	cs := claimSettings{model: w.model, prompt: w.prompt, params: w.params}
	if w.settings == nil {
		return cs
	}
	if v, ok, err := w.settings.GetSetting(ctx, "analyzer_model"); err == nil && ok && v != "" {
		cs.model = v
	}
	if v, ok, err := w.settings.GetSetting(ctx, "analyzer_prompt"); err == nil && ok && v != "" {
		cs.prompt = v
	}
	if v, ok, err := w.settings.GetSetting(ctx, "analyzer_params"); err == nil && ok && v != "" {
		var params map[string]any
		if jsonErr := json.Unmarshal([]byte(v), &params); jsonErr == nil {
			cs.params = params
		}
	}
	return cs
}

func (w *Worker) processOne(ctx context.Context, p store.Post, cs claimSettings) {
	w.setStatus(StatusWorking, p.ID)
	defer w.setStatus(StatusIdle, "")

	log := slog.With("worker_id", w.id, "post_id", p.ID)

	if w.governor != nil {
		deadline := time.Now().Add(w.timeout)
		d := w.governor.Acquire(ctx, "analyzer", 1, deadline)
		if !d.Permitted {
			retry := time.Now().Add(d.RetryAfter)
			if err := w.store.FailAnalysis(ctx, p.ID, "rate governor denied", &retry); err != nil {
				log.Error("failed to release rate-limited claim", "error", err)
			}
			return
		}
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	result, err := w.analyzer.Analyze(analyzeCtx, renderPrompt(cs.prompt, p), cs.model, cs.params)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordAnalysis(outcomeLabelForError(err), elapsed)
		w.handleAnalyzeError(ctx, log, p.ID, err)
		return
	}
	metrics.RecordAnalysis("ok", elapsed)

	analysis := &store.Analysis{
		PostID:         p.ID,
		Model:          cs.model,
		PromptSnapshot: cs.prompt,
		OutputText:     result.OutputText,
		TokensUsed:     result.TokensUsed,
		CostEstimate:   result.CostUSD,
		ElapsedMS:      int(elapsed.Milliseconds()),
		CreatedAt:      time.Now(),
	}
	if err := w.store.CompleteAnalysis(ctx, analysis); err != nil {
		log.Error("failed to record completed analysis", "error", err)
		return
	}

	w.mu.Lock()
	w.postsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()

	if cost, err := w.store.DailyCost(ctx, time.Now()); err == nil {
		metrics.SetAnalysisCost(cost)
	}
}

func outcomeLabelForError(err error) string {
	if relayerr.Retryable(err) {
		return "transient_fail"
	}
	return "permanent_fail"
}

// handleAnalyzeError classifies the Analyzer's error and releases the
// claim per spec.md §7's policy table.
func (w *Worker) handleAnalyzeError(ctx context.Context, log *slog.Logger, postID string, err error) {
	kind := relayerr.KindOf(err)
	retryable := relayerr.Retryable(err)

	var retryAfter *time.Time
	if retryable {
		t := time.Now().Add(backoffFor(kind))
		retryAfter = &t
	}

	if kind == relayerr.UpstreamRateLimit && w.governor != nil {
		w.governor.Penalize("analyzer", backoffFor(kind))
	}

	if failErr := w.store.FailAnalysis(ctx, postID, err.Error(), retryAfter); failErr != nil {
		log.Error("failed to record failed analysis", "error", failErr)
	}
}

func backoffFor(kind relayerr.Kind) time.Duration {
	switch kind {
	case relayerr.UpstreamRateLimit:
		return time.Minute
	case relayerr.TransientNetwork, relayerr.InternalTransient:
		return 30 * time.Second
	default:
		return 0
	}
}

// renderPrompt substitutes {text}/{author}/{created_at} into the prompt
// template (spec.md §4.4: "user prompt template with {text, author,
// created_at} substitutions"). A template with no {text} placeholder falls
// back to appending the post text, so a plain operator-supplied prompt
// without placeholders keeps working unchanged.
func renderPrompt(prompt string, p store.Post) string {
	rendered := strings.NewReplacer(
		"{text}", p.Text,
		"{author}", p.Account,
		"{created_at}", p.CreatedAt.Format(time.RFC3339),
	).Replace(prompt)

	if !strings.Contains(prompt, "{text}") {
		rendered += "\n\n" + p.Text
	}
	return rendered
}

func (w *Worker) setStatus(s Status, postID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
	w.currentPostID = postID
	w.lastActivity = time.Now()
}

// costCeilingHit reads the configured daily ceiling from settings (falling
// back to 0 = unlimited) and compares it against today's accrued cost.
func (w *Worker) costCeilingHit(ctx context.Context) (float64, bool) {
	if w.settings == nil {
		return 0, false
	}
	raw, ok, err := w.settings.GetSetting(ctx, "daily_cost_ceiling_usd")
	if err != nil || !ok {
		return 0, false
	}
	var ceiling float64
	if _, err := fmt.Sscan(raw, &ceiling); err != nil || ceiling <= 0 {
		return 0, false
	}
	spent, err := w.store.DailyCost(ctx, time.Now())
	if err != nil {
		return 0, false
	}
	return spent, spent >= ceiling
}
