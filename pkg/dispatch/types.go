// Package dispatch claims ANALYZED posts and sends each to its configured
// destination(s), recording every attempt as an append-only
// store.DispatchRecord, the same claim/process/complete shape pkg/analysis
// uses for the analysis stage.
package dispatch

import (
	"context"
	"time"
)

// Outcome is the result of a single delivery attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTransientFail
	OutcomePermanentFail
)

// Dispatcher is implemented by each destination backend
// (pkg/dispatch/slack).
type Dispatcher interface {
	// Destination returns the stable name recorded on DispatchRecord.
	Destination() string
	// Send delivers text for postID, returning the outcome classification
	// directly rather than leaving the worker to infer it from err alone.
	Send(ctx context.Context, postID, text string) (Outcome, error)
}

// PoolHealth mirrors pkg/analysis.PoolHealth, narrowed to the dispatch stage.
type PoolHealth struct {
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth mirrors pkg/analysis.WorkerHealth for a dispatch worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CurrentPostID  string    `json:"current_post_id,omitempty"`
	PostsProcessed int       `json:"posts_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
