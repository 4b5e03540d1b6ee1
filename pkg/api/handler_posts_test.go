package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycove/signalrelay/pkg/relayerr"
	"github.com/relaycove/signalrelay/pkg/store"
)

type stubStore struct {
	posts      []store.Post
	post       *store.Post
	postErr    error
	analysis   *store.Analysis
	analysisErr error
	dispatches []store.DispatchRecord
	stats      *store.Stats
	listFilter store.PostFilter
}

func (s *stubStore) Health(ctx context.Context) (*store.HealthStatus, error) { return nil, nil }
func (s *stubStore) Stats(ctx context.Context) (*store.Stats, error)         { return s.stats, nil }
func (s *stubStore) ListPosts(ctx context.Context, f store.PostFilter) ([]store.Post, error) {
	s.listFilter = f
	return s.posts, nil
}
func (s *stubStore) GetPost(ctx context.Context, id string) (*store.Post, error) {
	return s.post, s.postErr
}
func (s *stubStore) GetAnalysis(ctx context.Context, postID string) (*store.Analysis, error) {
	return s.analysis, s.analysisErr
}
func (s *stubStore) ListDispatchRecords(ctx context.Context, postID string) ([]store.DispatchRecord, error) {
	return s.dispatches, nil
}

func TestListPostsHandler_DefaultsLimitWhenUnset(t *testing.T) {
	st := &stubStore{posts: []store.Post{{ID: "p1"}, {ID: "p2"}}}
	s := &Server{store: st, coordinator: &fakeCoordinator{}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/posts?account=alice&status=dispatched", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.listPostsHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", st.listFilter.Account)
	assert.Equal(t, store.PostStatus("dispatched"), st.listFilter.Status)
	assert.Contains(t, rec.Body.String(), `"limit":50`)
}

func TestListPostsHandler_ParsesLimitAndOffset(t *testing.T) {
	st := &stubStore{posts: nil}
	s := &Server{store: st, coordinator: &fakeCoordinator{}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/posts?limit=10&offset=20", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.listPostsHandler(c)
	require.NoError(t, err)
	assert.Equal(t, 10, st.listFilter.Limit)
	assert.Equal(t, 20, st.listFilter.Offset)
}

func TestGetPostHandler_ReturnsPostWithAnalysisAndDispatches(t *testing.T) {
	now := time.Unix(0, 0)
	st := &stubStore{
		post:       &store.Post{ID: "p1", CreatedAt: now},
		analysis:   &store.Analysis{PostID: "p1"},
		dispatches: []store.DispatchRecord{{PostID: "p1", Destination: "slack:C1"}},
	}
	s := &Server{store: st, coordinator: &fakeCoordinator{}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/posts/p1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	err := s.getPostHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPostHandler_ToleratesMissingAnalysis(t *testing.T) {
	st := &stubStore{
		post:        &store.Post{ID: "p1"},
		analysisErr: relayerr.ErrNotFound,
	}
	s := &Server{store: st, coordinator: &fakeCoordinator{}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/posts/p1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	err := s.getPostHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPostHandler_ReturnsNotFoundForUnknownPost(t *testing.T) {
	st := &stubStore{postErr: relayerr.ErrNotFound}
	s := &Server{store: st, coordinator: &fakeCoordinator{}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/posts/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := s.getPostHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Code)
}

func TestStatsHandler_ReturnsQueueDepthsAndCost(t *testing.T) {
	st := &stubStore{stats: &store.Stats{
		QueueDepths: map[store.PostStatus]int64{store.PostStatus("dispatched"): 3},
		DailyCost:   1.25,
	}}
	s := &Server{store: st, coordinator: &fakeCoordinator{}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.statsHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}
