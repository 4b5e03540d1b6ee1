// Package ingest drains SourceCoordinator's trigger stream, fetches posts
// for each triggered account, and upserts them into the Store, handing
// newly-inserted posts off to the analysis stage.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relaycove/signalrelay/pkg/metrics"
	"github.com/relaycove/signalrelay/pkg/relayerr"
	"github.com/relaycove/signalrelay/pkg/source"
	"github.com/relaycove/signalrelay/pkg/store"
)

// Store is the narrow persistence capability IngestPipeline needs.
type Store interface {
	UpsertPost(ctx context.Context, p *store.Post) (inserted bool, err error)
	MarkAccountPolled(ctx context.Context, username string, lastSeenPostID *string) error
	GetAccount(ctx context.Context, username string) (*store.Account, error)
}

// RateGovernor is the subset of pkg/rategovernor IngestPipeline consults
// when a source signals a rate limit, so one misbehaving account's
// back-off doesn't block others.
type RateGovernor interface {
	Penalize(account string, retryAfter time.Duration)
}

// MaxFetch bounds how many posts a single trigger fetches (spec.md §4.3).
const MaxFetch = 50

// Pipeline consumes source.Trigger events and performs the fetch/upsert/
// enqueue steps described in spec.md §4.3.
type Pipeline struct {
	client           source.Client
	store            Store
	triggers         <-chan source.Trigger
	analysisOut      chan<- string // post IDs newly inserted, ready for analysis
	historicalWindow time.Duration
	governor         RateGovernor

	stopCh chan struct{}
}

// New constructs a Pipeline. analysisOut is the channel AnalysisWorker
// pulls post IDs from — IngestPipeline only signals "there's new work",
// AnalysisWorker still claims from Store, so a dropped signal never loses
// a post (Store is the source of truth, per spec.md §2's control-flow note).
func New(client source.Client, st Store, triggers <-chan source.Trigger, analysisOut chan<- string, historicalWindow time.Duration, governor RateGovernor) *Pipeline {
	return &Pipeline{
		client:           client,
		store:            st,
		triggers:         triggers,
		analysisOut:      analysisOut,
		historicalWindow: historicalWindow,
		governor:         governor,
		stopCh:           make(chan struct{}),
	}
}

// Run processes triggers until ctx is cancelled or Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case trig, ok := <-p.triggers:
			if !ok {
				return
			}
			p.process(ctx, trig)
		}
	}
}

// Stop signals Run to exit after its current trigger finishes.
func (p *Pipeline) Stop() { close(p.stopCh) }

func (p *Pipeline) process(ctx context.Context, trig source.Trigger) {
	log := slog.With("account", trig.Account, "reason", trig.Reason)

	account, err := p.store.GetAccount(ctx, trig.Account)
	if err != nil {
		log.Error("account vanished between trigger and processing", "error", err)
		return
	}

	firstObservation := account.LastSeenPostID == nil
	var sinceID string
	if account.LastSeenPostID != nil {
		sinceID = *account.LastSeenPostID
	}

	posts, err := p.client.FetchSince(ctx, trig.Account, sinceID, MaxFetch)
	if err != nil {
		p.handleFetchError(log, trig.Account, err)
		return
	}

	if firstObservation && p.historicalWindow > 0 {
		posts = filterWithinHistoricalWindow(posts, p.historicalWindow)
	}

	// Reverse-chronological input, sorted ascending by created_at so
	// last_seen_post_id always advances to the newest post processed.
	sortAscendingByCreatedAt(posts)

	var lastSeen string
	inserted := 0
	for _, sp := range posts {
		post := &store.Post{
			ID:        sp.ID,
			Account:   sp.Account,
			Text:      sp.Text,
			CreatedAt: sp.CreatedAt,
			Engagement: store.Engagement{
				Likes: sp.Likes, Reshares: sp.Reshares, Replies: sp.Replies,
			},
			Media: mediaFromURLs(sp.MediaURLs),
		}

		didInsert, err := p.store.UpsertPost(ctx, post)
		if err != nil {
			log.Error("failed to upsert post, continuing with remaining posts", "post_id", sp.ID, "error", err)
			continue
		}
		metrics.RecordIngest(trig.Account, !didInsert)
		if didInsert {
			inserted++
			select {
			case p.analysisOut <- post.ID:
			default:
				log.Warn("analysis signal channel full, post still visible via Store claim", "post_id", post.ID)
			}
		}
		lastSeen = sp.ID
	}

	if lastSeen != "" {
		err = p.store.MarkAccountPolled(ctx, trig.Account, &lastSeen)
	} else {
		err = p.store.MarkAccountPolled(ctx, trig.Account, nil)
	}
	if err != nil {
		log.Error("failed to record poll bookkeeping", "error", err)
	}

	log.Info("ingest cycle complete", "fetched", len(posts), "inserted", inserted)
}

// filterWithinHistoricalWindow drops posts older than historicalWindow on
// an account's first observation (spec.md §4.3/§8: "a post dated before
// historical_hours threshold on first sight is not ingested").
func filterWithinHistoricalWindow(posts []source.Post, window time.Duration) []source.Post {
	cutoff := time.Now().Add(-window)
	kept := posts[:0]
	for _, p := range posts {
		if p.CreatedAt.After(cutoff) {
			kept = append(kept, p)
		}
	}
	return kept
}

// handleFetchError applies spec.md §4.3's error policy: rate-limit signals
// feed the RateGovernor as an account-scoped back-off; transient errors
// are logged and retried on the next trigger; everything else (malformed
// responses) is logged without advancing last_seen_post_id so the next
// poll re-attempts the same window.
func (p *Pipeline) handleFetchError(log *slog.Logger, account string, err error) {
	switch relayerr.KindOf(err) {
	case relayerr.UpstreamRateLimit:
		if p.governor != nil {
			p.governor.Penalize(account, retryAfterFromError(err))
		}
		log.Warn("source rate-limited, backing off account", "error", err)
	case relayerr.TransientNetwork, relayerr.InternalTransient:
		log.Warn("transient fetch error, will retry on next trigger", "error", err)
	default:
		log.Error("fetch failed, not retrying this window", "error", err)
	}
}

// retryableWithDuration is implemented by source errors that can suggest
// their own back-off (e.g. an HTTP 429's Retry-After header).
type retryableWithDuration interface {
	RetryAfter() time.Duration
}

// retryAfterFromError extracts a suggested back-off from a classified
// error, defaulting to one minute when the source didn't supply a value.
func retryAfterFromError(err error) time.Duration {
	var c *relayerr.Classified
	if errors.As(err, &c) {
		if d, ok := c.Cause.(retryableWithDuration); ok {
			return d.RetryAfter()
		}
	}
	return time.Minute
}

func sortAscendingByCreatedAt(posts []source.Post) {
	for i := 1; i < len(posts); i++ {
		for j := i; j > 0 && posts[j].CreatedAt.Before(posts[j-1].CreatedAt); j-- {
			posts[j], posts[j-1] = posts[j-1], posts[j]
		}
	}
}

func mediaFromURLs(urls []string) []store.MediaItem {
	if len(urls) == 0 {
		return nil
	}
	items := make([]store.MediaItem, len(urls))
	for i, u := range urls {
		items[i] = store.MediaItem{Kind: store.MediaImage, URL: u}
	}
	return items
}
