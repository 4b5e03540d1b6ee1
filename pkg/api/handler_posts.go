package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/relaycove/signalrelay/pkg/relayerr"
	"github.com/relaycove/signalrelay/pkg/store"
)

// listPostsHandler handles GET /posts?account=...&status=...&limit=...&offset=...,
// the paginated/filterable read API spec.md §6 asks for.
func (s *Server) listPostsHandler(c *echo.Context) error {
	f := store.PostFilter{
		Account: c.QueryParam("account"),
		Status:  store.PostStatus(c.QueryParam("status")),
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}

	posts, err := s.store.ListPosts(c.Request().Context(), f)
	if err != nil {
		return mapStoreError(err)
	}

	views := make([]postView, len(posts))
	for i, p := range posts {
		views[i] = newPostView(p)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return c.JSON(http.StatusOK, &postsPageResponse{Posts: views, Limit: limit, Offset: f.Offset})
}

// getPostHandler handles GET /posts/:id, returning the post alongside its
// analysis (if any) and dispatch history.
func (s *Server) getPostHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}

	resp := &postDetailResponse{Post: newPostView(*post)}

	if a, err := s.store.GetAnalysis(ctx, id); err == nil {
		view := newAnalysisView(*a)
		resp.Analysis = &view
	} else if !errors.Is(err, relayerr.ErrNotFound) {
		return mapStoreError(err)
	}

	dispatches, err := s.store.ListDispatchRecords(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	resp.Dispatches = make([]dispatchRecordView, len(dispatches))
	for i, r := range dispatches {
		resp.Dispatches[i] = newDispatchRecordView(r)
	}

	return c.JSON(http.StatusOK, resp)
}

// statsHandler handles GET /stats.
func (s *Server) statsHandler(c *echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &statsResponse{QueueDepths: stats.QueueDepths, DailyCostUSD: stats.DailyCost})
}
