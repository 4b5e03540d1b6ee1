// Package api provides signalrelay's HTTP surface: the health endpoint,
// push-notification intake, the admin force-poll trigger, and paginated
// read APIs over posts/analyses, all on Echo v5.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/relaycove/signalrelay/pkg/analysis"
	"github.com/relaycove/signalrelay/pkg/dispatch"
	"github.com/relaycove/signalrelay/pkg/source"
	"github.com/relaycove/signalrelay/pkg/store"
)

// Store is the narrow persistence capability the API needs for read
// endpoints and health reporting.
type Store interface {
	Health(ctx context.Context) (*store.HealthStatus, error)
	Stats(ctx context.Context) (*store.Stats, error)
	ListPosts(ctx context.Context, f store.PostFilter) ([]store.Post, error)
	GetPost(ctx context.Context, id string) (*store.Post, error)
	GetAnalysis(ctx context.Context, postID string) (*store.Analysis, error)
	ListDispatchRecords(ctx context.Context, postID string) ([]store.DispatchRecord, error)
}

// Coordinator is the narrow capability the API needs from source.Coordinator
// for the push-intake and force-poll endpoints.
type Coordinator interface {
	HandlePush(account, hintPostID string) error
	ForcePoll(account string) error
	Stats() source.Stats
}

// Server is signalrelay's HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store        Store
	coordinator  Coordinator
	analysisPool *analysis.Pool
	dispatchPool *dispatch.Pool
	pushSecret   string
	startedAt    time.Time
}

// NewServer creates a new API server with Echo v5. analysisPool/dispatchPool
// may be nil (e.g. in tests that only exercise read endpoints).
func NewServer(st Store, coord Coordinator, analysisPool *analysis.Pool, dispatchPool *dispatch.Pool, pushSecret string) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		store:        st,
		coordinator:  coord,
		analysisPool: analysisPool,
		dispatchPool: dispatchPool,
		pushSecret:   pushSecret,
		startedAt:    time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Server-wide body size limit: push payloads and admin requests are
	// small JSON documents, not bulk uploads.
	s.echo.Use(middleware.BodyLimit(1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	s.echo.POST("/ingest/push", s.pushHandler)
	s.echo.POST("/ingest/poll/force", s.forcePollHandler)

	s.echo.GET("/posts", s.listPostsHandler)
	s.echo.GET("/posts/:id", s.getPostHandler)
	s.echo.GET("/stats", s.statsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
