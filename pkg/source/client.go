// Package source implements the ingest-side scheduling half of the
// pipeline: SourceCoordinator folds scheduled polling and push-webhook
// intake into a single deduplicated stream of poll triggers, and
// SourceClient is the narrow capability IngestPipeline needs to fetch
// posts for a trigger.
package source

import (
	"context"
	"time"
)

// Post is the raw shape a SourceClient returns, before it becomes a
// store.Post (ingest does the id/timestamp bookkeeping, not the client).
type Post struct {
	ID         string
	Account    string
	Text       string
	CreatedAt  time.Time
	Likes      int64
	Reshares   int64
	Replies    int64
	MediaURLs  []string
}

// Client is the capability IngestPipeline needs from a concrete social
// platform integration. Implementations live in subpackages (e.g.
// source/mock for tests); the production implementation is out of scope
// for this repository the way a specific LLM vendor SDK client is scoped
// to pkg/analysis/anthropic.
type Client interface {
	// FetchSince returns posts for account newer than sincePostID (empty
	// string means "no prior observation" — the historical-hours window
	// applies), bounded to at most maxFetch posts.
	FetchSince(ctx context.Context, account, sincePostID string, maxFetch int) ([]Post, error)
}
