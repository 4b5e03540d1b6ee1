// Package analysis claims NEW posts, runs them through an Analyzer, and
// writes the result back through Store, the same claim/process/complete
// shape pkg/queue uses for alert sessions.
package analysis

import (
	"context"
	"errors"
	"time"
)

// Result is what an Analyzer produces for a single post.
type Result struct {
	OutputText string
	TokensUsed int
	CostUSD    float64
}

// Analyzer is implemented by each LLM backend (pkg/analysis/anthropic).
type Analyzer interface {
	Analyze(ctx context.Context, prompt, model string, params map[string]any) (Result, error)
}

// Sentinel errors for pool operations.
var (
	// ErrNoPostsAvailable indicates ClaimForAnalysis returned nothing to do.
	ErrNoPostsAvailable = errors.New("no posts available for analysis")
	// ErrCostCeilingReached indicates daily_cost_ceiling_usd has been hit.
	ErrCostCeilingReached = errors.New("daily analysis cost ceiling reached")
)

// PoolHealth mirrors pkg/queue's PoolHealth shape, narrowed to what the
// analysis stage tracks.
type PoolHealth struct {
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
	DailyCostUSD   float64        `json:"daily_cost_usd"`
	CostCeilingHit bool           `json:"cost_ceiling_hit"`
}

// WorkerHealth mirrors pkg/queue.WorkerHealth for a single analysis worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentPostID  string    `json:"current_post_id,omitempty"`
	PostsProcessed int       `json:"posts_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
