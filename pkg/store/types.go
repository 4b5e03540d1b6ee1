package store

import "time"

// PostStatus is the tagged variant from spec.md §3 ("exactly one of
// {NEW, ANALYZING, ANALYZED, DISPATCHING, DISPATCHED, FAILED}").
type PostStatus string

const (
	StatusNew         PostStatus = "new"
	StatusAnalyzing   PostStatus = "analyzing"
	StatusAnalyzed    PostStatus = "analyzed"
	StatusDispatching PostStatus = "dispatching"
	StatusDispatched  PostStatus = "dispatched"
	StatusFailed      PostStatus = "failed"
)

// DispatchOutcome is the result of a single dispatch attempt.
type DispatchOutcome string

const (
	OutcomeOK             DispatchOutcome = "ok"
	OutcomeTransientFail  DispatchOutcome = "transient_fail"
	OutcomePermanentFail  DispatchOutcome = "permanent_fail"
)

// Account is a monitored social-media account.
type Account struct {
	Username       string     `db:"username"`
	Enabled        bool       `db:"enabled"`
	LastPolledAt   *time.Time `db:"last_polled_at"`
	LastSeenPostID *string    `db:"last_seen_post_id"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// MediaKind enumerates the media attachment types a Post can carry.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaGIF   MediaKind = "gif"
)

// MediaItem is one attachment on a Post.
type MediaItem struct {
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url"`
	LocalRef string    `json:"local_ref,omitempty"`
}

// Engagement is the ordered set of counters carried on a Post.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Reshares int64 `json:"reshares"`
	Replies  int64 `json:"replies"`
}

// Post is an individual social-media message fetched from a SourceClient.
type Post struct {
	ID          string      `db:"id"`
	Account     string      `db:"account"`
	Text        string      `db:"text"`
	CreatedAt   time.Time   `db:"created_at"`
	IngestedAt  time.Time   `db:"ingested_at"`
	Engagement  Engagement  `db:"-"`
	EngagementJ []byte      `db:"engagement" json:"-"`
	Media       []MediaItem `db:"-"`
	MediaJ      []byte      `db:"media" json:"-"`
	Status      PostStatus  `db:"status"`
	FailReason  *string     `db:"fail_reason"`
	RetryAfter  *time.Time  `db:"retry_after"`
	ClaimedBy   *string     `db:"claimed_by"`
	ClaimedAt   *time.Time  `db:"claimed_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

// Analysis is the LLM-produced output for a post. Immutable once written.
type Analysis struct {
	PostID              string    `db:"post_id"`
	Model               string    `db:"model"`
	ParametersSnapshotJ []byte    `db:"parameters_snapshot"`
	PromptSnapshot      string    `db:"prompt_snapshot"`
	OutputText          string    `db:"output_text"`
	TokensUsed          int       `db:"tokens_used"`
	CostEstimate        float64   `db:"cost_estimate"`
	ElapsedMS           int       `db:"elapsed_ms"`
	CreatedAt           time.Time `db:"created_at"`
}

// DispatchRecord is one append-only row in the dispatch log.
type DispatchRecord struct {
	ID             int64           `db:"id"`
	PostID         string          `db:"post_id"`
	Destination    string          `db:"destination"`
	AttemptNumber  int             `db:"attempt_number"`
	Outcome        DispatchOutcome `db:"outcome"`
	ErrorDetail    *string         `db:"error_detail"`
	SentAt         time.Time       `db:"sent_at"`
}

// Setting is a runtime-editable key/value configuration pair.
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}
