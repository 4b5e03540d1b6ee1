package api

import (
	"time"

	"github.com/relaycove/signalrelay/pkg/store"
)

// HealthResponse is returned by GET /health, per spec.md §6:
// {status, uptime, queue_depths, last_progress_per_component}.
type HealthResponse struct {
	Status                  string                     `json:"status"`
	Version                 string                     `json:"version"`
	UptimeSeconds           float64                    `json:"uptime_seconds"`
	QueueDepths             map[store.PostStatus]int64 `json:"queue_depths"`
	DailyCostUSD            float64                    `json:"daily_cost_usd"`
	LastProgressPerComponent map[string]time.Time      `json:"last_progress_per_component"`
	Database                *store.HealthStatus        `json:"database"`
	AnalysisPool             *poolHealthView            `json:"analysis_pool,omitempty"`
	DispatchPool             *poolHealthView            `json:"dispatch_pool,omitempty"`
	Coordinator              *coordinatorStatsView      `json:"coordinator,omitempty"`
	Warnings                []string                   `json:"warnings,omitempty"`
}

type poolHealthView struct {
	ActiveWorkers int `json:"active_workers"`
	TotalWorkers  int `json:"total_workers"`
}

type coordinatorStatsView struct {
	Coalesced int64 `json:"coalesced"`
	Dropped   int64 `json:"dropped"`
}

// pushAcceptedResponse is returned by POST /ingest/push on success.
type pushAcceptedResponse struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

// forcePollResponse is returned by POST /ingest/poll/force.
type forcePollResponse struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

// postView is the JSON shape returned by the post read API — a deliberately
// narrow projection of store.Post rather than reusing it directly, so the
// wire format doesn't change shape with internal column additions.
type postView struct {
	ID         string            `json:"id"`
	Account    string            `json:"account"`
	Text       string            `json:"text"`
	CreatedAt  time.Time         `json:"created_at"`
	IngestedAt time.Time         `json:"ingested_at"`
	Engagement store.Engagement  `json:"engagement"`
	Media      []store.MediaItem `json:"media"`
	Status     store.PostStatus `json:"status"`
	FailReason *string           `json:"fail_reason,omitempty"`
}

func newPostView(p store.Post) postView {
	return postView{
		ID:         p.ID,
		Account:    p.Account,
		Text:       p.Text,
		CreatedAt:  p.CreatedAt,
		IngestedAt: p.IngestedAt,
		Engagement: p.Engagement,
		Media:      p.Media,
		Status:     p.Status,
		FailReason: p.FailReason,
	}
}

// postsPageResponse is returned by GET /posts.
type postsPageResponse struct {
	Posts  []postView `json:"posts"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// analysisView is the JSON shape returned by the analysis read API.
type analysisView struct {
	PostID       string    `json:"post_id"`
	Model        string    `json:"model"`
	OutputText   string    `json:"output_text"`
	TokensUsed   int       `json:"tokens_used"`
	CostEstimate float64   `json:"cost_estimate"`
	ElapsedMS    int       `json:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

func newAnalysisView(a store.Analysis) analysisView {
	return analysisView{
		PostID:       a.PostID,
		Model:        a.Model,
		OutputText:   a.OutputText,
		TokensUsed:   a.TokensUsed,
		CostEstimate: a.CostEstimate,
		ElapsedMS:    a.ElapsedMS,
		CreatedAt:    a.CreatedAt,
	}
}

// dispatchRecordView is the JSON shape returned alongside a post's detail.
type dispatchRecordView struct {
	Destination   string              `json:"destination"`
	AttemptNumber int                 `json:"attempt_number"`
	Outcome       store.DispatchOutcome `json:"outcome"`
	ErrorDetail   *string             `json:"error_detail,omitempty"`
	SentAt        time.Time           `json:"sent_at"`
}

func newDispatchRecordView(r store.DispatchRecord) dispatchRecordView {
	return dispatchRecordView{
		Destination:   r.Destination,
		AttemptNumber: r.AttemptNumber,
		Outcome:       r.Outcome,
		ErrorDetail:   r.ErrorDetail,
		SentAt:        r.SentAt,
	}
}

// postDetailResponse is returned by GET /posts/:id.
type postDetailResponse struct {
	Post      postView             `json:"post"`
	Analysis  *analysisView        `json:"analysis,omitempty"`
	Dispatches []dispatchRecordView `json:"dispatches"`
}

// statsResponse is returned by GET /stats.
type statsResponse struct {
	QueueDepths map[store.PostStatus]int64 `json:"queue_depths"`
	DailyCostUSD float64                   `json:"daily_cost_usd"`
}
