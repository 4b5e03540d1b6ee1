package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaycove/signalrelay/pkg/relayerr"
)

// UpsertPost inserts a post or, if one with the same id already exists,
// refreshes only its engagement counters — every other field (text,
// created_at, media) is immutable once ingested (spec.md §4.1/§8's "no
// fields are overwritten except engagement counters"). Reports whether a
// new row was actually inserted, via Postgres's xmax=0 trick rather than
// RowsAffected, since an ON CONFLICT DO UPDATE always affects a row.
func (c *Client) UpsertPost(ctx context.Context, p *Post) (inserted bool, err error) {
	engagementJ, err := json.Marshal(p.Engagement)
	if err != nil {
		return false, relayerr.Classify(relayerr.InputInvalid, "marshal engagement", err)
	}
	mediaJ, err := json.Marshal(p.Media)
	if err != nil {
		return false, relayerr.Classify(relayerr.InputInvalid, "marshal media", err)
	}

	err = c.db.QueryRowxContext(ctx, `
		INSERT INTO posts (id, account, text, created_at, ingested_at, engagement, media, status)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET engagement = EXCLUDED.engagement
		RETURNING (xmax = 0) AS inserted
	`, p.ID, p.Account, p.Text, p.CreatedAt, engagementJ, mediaJ, StatusNew).Scan(&inserted)
	if err != nil {
		return false, relayerr.Classify(relayerr.InternalTransient, "upsert post", err)
	}
	return inserted, nil
}

// GetAccount fetches a single account by username.
func (c *Client) GetAccount(ctx context.Context, username string) (*Account, error) {
	var a Account
	err := c.db.GetContext(ctx, &a, `
		SELECT username, enabled, last_polled_at, last_seen_post_id, created_at, updated_at
		FROM accounts WHERE username = $1
	`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerr.Classify(relayerr.InputInvalid, "account not found", relayerr.ErrNotFound)
	}
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "get account", err)
	}
	return &a, nil
}

// MonitoredAccounts returns all accounts with enabled = true.
func (c *Client) MonitoredAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := c.db.SelectContext(ctx, &accounts, `
		SELECT username, enabled, last_polled_at, last_seen_post_id, created_at, updated_at
		FROM accounts WHERE enabled = true ORDER BY username
	`)
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "list monitored accounts", err)
	}
	return accounts, nil
}

// MarkAccountPolled records the result of a completed poll cycle for account.
func (c *Client) MarkAccountPolled(ctx context.Context, username string, lastSeenPostID *string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE accounts SET last_polled_at = now(), last_seen_post_id = COALESCE($2, last_seen_post_id), updated_at = now()
		WHERE username = $1
	`, username, lastSeenPostID)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "mark account polled", err)
	}
	return nil
}

// ClaimForAnalysis atomically claims up to limit posts in status NEW using
// SELECT ... FOR UPDATE SKIP LOCKED, the same pattern the queue package uses
// for session claims, so concurrent AnalysisWorkers never double-process a
// post. Claimed posts transition to ANALYZING and record claimedBy/claimedAt.
func (c *Client) ClaimForAnalysis(ctx context.Context, workerID string, limit int) ([]Post, error) {
	return c.claimBatch(ctx, workerID, limit, StatusNew, StatusAnalyzing, `
		status = $1
		AND (retry_after IS NULL OR retry_after <= now())
	`)
}

// ClaimForDispatch atomically claims up to limit posts in status ANALYZED,
// transitioning them to DISPATCHING. Ordered oldest-first per account so a
// single destination's messages stay roughly arrival-ordered.
func (c *Client) ClaimForDispatch(ctx context.Context, workerID string, limit int) ([]Post, error) {
	return c.claimBatch(ctx, workerID, limit, StatusAnalyzed, StatusDispatching, `
		status = $1
		AND (retry_after IS NULL OR retry_after <= now())
	`)
}

func (c *Client) claimBatch(ctx context.Context, workerID string, limit int, from, to PostStatus, whereExtra string) ([]Post, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "begin claim tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []Post
	query := fmt.Sprintf(`
		SELECT id, account, text, created_at, ingested_at, engagement, media,
		       status, fail_reason, retry_after, claimed_by, claimed_at, updated_at
		FROM posts
		WHERE %s
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, whereExtra)
	if err := tx.SelectContext(ctx, &rows, query, from, limit); err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "select claimable posts", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	now := time.Now()
	updateQuery, args, err := sqlx.In(`
		UPDATE posts SET status = ?, claimed_by = ?, claimed_at = ?, retry_after = NULL, updated_at = now()
		WHERE id IN (?)
	`, to, workerID, now, ids)
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalFatal, "build claim update", err)
	}
	updateQuery = tx.Rebind(updateQuery)
	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "claim posts", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "commit claim", err)
	}

	for i := range rows {
		rows[i].Status = to
		rows[i].ClaimedBy = &workerID
		rows[i].ClaimedAt = &now
		if err := unmarshalPostJSON(&rows[i]); err != nil {
			return nil, relayerr.Classify(relayerr.InternalFatal, "unmarshal claimed post", err)
		}
	}
	return rows, nil
}

func unmarshalPostJSON(p *Post) error {
	if err := json.Unmarshal(p.EngagementJ, &p.Engagement); err != nil {
		return fmt.Errorf("unmarshal engagement for post %s: %w", p.ID, err)
	}
	if len(p.MediaJ) > 0 {
		if err := json.Unmarshal(p.MediaJ, &p.Media); err != nil {
			return fmt.Errorf("unmarshal media for post %s: %w", p.ID, err)
		}
	}
	return nil
}

// CompleteAnalysis persists the analysis result and transitions the post to
// ANALYZED in a single transaction, so a worker crash between the two writes
// can never leave an Analysis row orphaned from its post's status.
func (c *Client) CompleteAnalysis(ctx context.Context, a *Analysis) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "begin complete-analysis tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	paramsJ := a.ParametersSnapshotJ
	if paramsJ == nil {
		paramsJ = []byte("{}")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (post_id, model, parameters_snapshot, prompt_snapshot, output_text, tokens_used, cost_estimate, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (post_id) DO UPDATE SET
			model = EXCLUDED.model, parameters_snapshot = EXCLUDED.parameters_snapshot,
			prompt_snapshot = EXCLUDED.prompt_snapshot, output_text = EXCLUDED.output_text,
			tokens_used = EXCLUDED.tokens_used, cost_estimate = EXCLUDED.cost_estimate,
			elapsed_ms = EXCLUDED.elapsed_ms, created_at = now()
	`, a.PostID, a.Model, paramsJ, a.PromptSnapshot, a.OutputText, a.TokensUsed, a.CostEstimate, a.ElapsedMS)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "insert analysis", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = $1, claimed_by = NULL, claimed_at = NULL, fail_reason = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`, StatusAnalyzed, a.PostID, StatusAnalyzing)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "transition post analyzed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relayerr.Classify(relayerr.InternalFatal, "post not in analyzing state", relayerr.ErrConflict)
	}

	day := a.CreatedAt
	if day.IsZero() {
		day = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_analysis_cost (day, cost_estimate) VALUES ($1, $2)
		ON CONFLICT (day) DO UPDATE SET cost_estimate = daily_analysis_cost.cost_estimate + EXCLUDED.cost_estimate
	`, day.UTC().Format("2006-01-02"), a.CostEstimate)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "accrue daily cost", err)
	}

	if err := tx.Commit(); err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "commit complete-analysis", err)
	}
	return nil
}

// FailAnalysis releases a claimed post back to a retryable or terminal state.
// When retryAfter is nil the post goes straight to FAILED.
func (c *Client) FailAnalysis(ctx context.Context, postID, reason string, retryAfter *time.Time) error {
	return c.release(ctx, postID, StatusAnalyzing, StatusNew, reason, retryAfter)
}

// CompleteDispatch appends a successful dispatch record and transitions the
// post to DISPATCHED.
func (c *Client) CompleteDispatch(ctx context.Context, rec *DispatchRecord) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "begin complete-dispatch tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDispatchRecord(ctx, tx, rec); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = $1, claimed_by = NULL, claimed_at = NULL, fail_reason = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`, StatusDispatched, rec.PostID, StatusDispatching)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "transition post dispatched", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relayerr.Classify(relayerr.InternalFatal, "post not in dispatching state", relayerr.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "commit complete-dispatch", err)
	}
	return nil
}

// FailDispatch appends a failed dispatch record and releases the post back
// to ANALYZED (retryable) or FAILED (terminal), per retryAfter.
func (c *Client) FailDispatch(ctx context.Context, rec *DispatchRecord, retryAfter *time.Time) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "begin fail-dispatch tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDispatchRecord(ctx, tx, rec); err != nil {
		return err
	}

	nextStatus := StatusAnalyzed
	if retryAfter == nil {
		nextStatus = StatusFailed
	}
	var errDetail *string
	if rec.ErrorDetail != nil {
		errDetail = rec.ErrorDetail
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = $1, claimed_by = NULL, claimed_at = NULL, fail_reason = $2, retry_after = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, nextStatus, errDetail, retryAfter, rec.PostID, StatusDispatching)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "release dispatch claim", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relayerr.Classify(relayerr.InternalFatal, "post not in dispatching state", relayerr.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "commit fail-dispatch", err)
	}
	return nil
}

// DispatchAttempts counts how many times postID has already been attempted
// against destination, so a dispatch worker can number the next attempt
// and decide whether cfg.MaxRetries has been exhausted.
func (c *Client) DispatchAttempts(ctx context.Context, postID, destination string) (int, error) {
	var n int
	err := c.db.GetContext(ctx, &n, `
		SELECT count(*) FROM dispatch_records WHERE post_id = $1 AND destination = $2
	`, postID, destination)
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "count dispatch attempts", err)
	}
	return n, nil
}

func insertDispatchRecord(ctx context.Context, tx *sqlx.Tx, rec *DispatchRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dispatch_records (post_id, destination, attempt_number, outcome, error_detail)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.PostID, rec.Destination, rec.AttemptNumber, rec.Outcome, rec.ErrorDetail)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "insert dispatch record", err)
	}
	return nil
}

// release moves a claimed post from `from` back to `fallback` (if retryAfter
// is set) or to FAILED (terminal), clearing the claim either way.
func (c *Client) release(ctx context.Context, postID string, from, fallback PostStatus, reason string, retryAfter *time.Time) error {
	next := fallback
	if retryAfter == nil {
		next = StatusFailed
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE posts SET status = $1, claimed_by = NULL, claimed_at = NULL, fail_reason = $2, retry_after = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`, next, reason, retryAfter, postID, from)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "release claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "rows affected on release", err)
	}
	if n == 0 {
		return relayerr.Classify(relayerr.InternalFatal, "post not in expected state for release", relayerr.ErrConflict)
	}
	return nil
}

// GetSetting returns the current value of key, or ("", false, nil) if unset.
func (c *Client) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var s Setting
	err := c.db.GetContext(ctx, &s, `SELECT key, value, updated_at FROM settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, relayerr.Classify(relayerr.InternalTransient, "get setting", err)
	}
	return s.Value, true, nil
}

// SetSetting upserts a runtime-editable setting.
func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return relayerr.Classify(relayerr.InternalTransient, "set setting", err)
	}
	return nil
}

// DailyCost returns the accrued analysis cost estimate for the UTC day
// containing at, or zero if no analyses have completed that day.
func (c *Client) DailyCost(ctx context.Context, at time.Time) (float64, error) {
	var cost float64
	err := c.db.GetContext(ctx, &cost, `
		SELECT COALESCE(cost_estimate, 0) FROM daily_analysis_cost WHERE day = $1
	`, at.UTC().Format("2006-01-02"))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "get daily cost", err)
	}
	return cost, nil
}

// GetPost fetches a single post by id.
func (c *Client) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	err := c.db.GetContext(ctx, &p, `
		SELECT id, account, text, created_at, ingested_at, engagement, media,
		       status, fail_reason, retry_after, claimed_by, claimed_at, updated_at
		FROM posts WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerr.Classify(relayerr.InputInvalid, "post not found", relayerr.ErrNotFound)
	}
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "get post", err)
	}
	if err := unmarshalPostJSON(&p); err != nil {
		return nil, relayerr.Classify(relayerr.InternalFatal, "unmarshal post", err)
	}
	return &p, nil
}

// ReleaseOrphans reclaims posts stuck in an in-flight status with a claim
// older than olderThan, returning them to a retryable state. Mirrors the
// queue package's orphan sweep, generalized across both the analysis and
// dispatch claim stages.
func (c *Client) ReleaseOrphans(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE posts SET
			status = CASE WHEN status = $1 THEN $3 ELSE $4 END,
			claimed_by = NULL, claimed_at = NULL,
			fail_reason = 'orphaned: claim exceeded heartbeat threshold',
			updated_at = now()
		WHERE status IN ($1, $2) AND claimed_at < $5
	`, StatusAnalyzing, StatusDispatching, StatusNew, StatusAnalyzed, olderThan)
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "release orphans", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "rows affected on orphan release", err)
	}
	return n, nil
}

// PurgeBefore deletes terminal posts (DISPATCHED, FAILED) older than before,
// along with their dependent analyses and dispatch records, implementing
// the retention sweep.
func (c *Client) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "begin purge tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ids []string
	err = tx.SelectContext(ctx, &ids, `
		SELECT id FROM posts WHERE status IN ($1, $2) AND updated_at < $3
	`, StatusDispatched, StatusFailed, before)
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "select purge candidates", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, table := range []string{"dispatch_records", "analyses"} {
		q, args, err := sqlx.In(fmt.Sprintf(`DELETE FROM %s WHERE post_id IN (?)`, table), ids)
		if err != nil {
			return 0, relayerr.Classify(relayerr.InternalFatal, "build purge delete", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
			return 0, relayerr.Classify(relayerr.InternalTransient, "purge "+table, err)
		}
	}

	q, args, err := sqlx.In(`DELETE FROM posts WHERE id IN (?)`, ids)
	if err != nil {
		return 0, relayerr.Classify(relayerr.InternalFatal, "build purge posts delete", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "purge posts", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, relayerr.Classify(relayerr.InternalTransient, "commit purge", err)
	}
	return int64(len(ids)), nil
}

// PostFilter narrows ListPosts by account and/or status; zero values mean
// "no filter on this field".
type PostFilter struct {
	Account string
	Status  PostStatus
	Limit   int
	Offset  int
}

// ListPosts returns posts newest-first, filtered by account/status when set,
// for the paginated/filterable read API spec.md §6 requires.
func (c *Client) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, account, text, created_at, ingested_at, engagement, media,
		       status, fail_reason, retry_after, claimed_by, claimed_at, updated_at
		FROM posts WHERE 1=1
	`
	var args []any
	if f.Account != "" {
		args = append(args, f.Account)
		query += fmt.Sprintf(" AND account = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var posts []Post
	if err := c.db.SelectContext(ctx, &posts, c.db.Rebind(query), args...); err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "list posts", err)
	}
	for i := range posts {
		if err := unmarshalPostJSON(&posts[i]); err != nil {
			return nil, relayerr.Classify(relayerr.InternalFatal, "unmarshal post", err)
		}
	}
	return posts, nil
}

// GetAnalysis fetches the analysis for a post, if one exists.
func (c *Client) GetAnalysis(ctx context.Context, postID string) (*Analysis, error) {
	var a Analysis
	err := c.db.GetContext(ctx, &a, `
		SELECT post_id, model, parameters_snapshot, prompt_snapshot, output_text,
		       tokens_used, cost_estimate, elapsed_ms, created_at
		FROM analyses WHERE post_id = $1
	`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerr.Classify(relayerr.InputInvalid, "analysis not found", relayerr.ErrNotFound)
	}
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "get analysis", err)
	}
	return &a, nil
}

// ListDispatchRecords returns the dispatch history for a post, most recent
// first, per spec.md §6's dispatch_records(post_id, sent_at desc) index.
func (c *Client) ListDispatchRecords(ctx context.Context, postID string) ([]DispatchRecord, error) {
	var recs []DispatchRecord
	err := c.db.SelectContext(ctx, &recs, `
		SELECT id, post_id, destination, attempt_number, outcome, error_detail, sent_at
		FROM dispatch_records WHERE post_id = $1 ORDER BY sent_at DESC
	`, postID)
	if err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "list dispatch records", err)
	}
	return recs, nil
}

// Stats is an aggregate snapshot of pipeline throughput, backing both the
// health endpoint and a dedicated stats read API.
type Stats struct {
	QueueDepths map[PostStatus]int64 `json:"queue_depths"`
	DailyCost   float64              `json:"daily_cost_usd"`
}

// Stats computes per-status post counts and today's cumulative analysis cost.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status PostStatus `db:"status"`
		N      int64      `db:"n"`
	}
	if err := c.db.SelectContext(ctx, &rows, `SELECT status, count(*) AS n FROM posts GROUP BY status`); err != nil {
		return nil, relayerr.Classify(relayerr.InternalTransient, "post status counts", err)
	}

	depths := make(map[PostStatus]int64, len(rows))
	for _, r := range rows {
		depths[r.Status] = r.N
	}

	cost, err := c.DailyCost(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	return &Stats{QueueDepths: depths, DailyCost: cost}, nil
}
