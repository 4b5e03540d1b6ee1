package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is a standalone HTTP server exposing the /metrics scrape endpoint,
// run on its own port separate from the main API server.
type Server struct {
	server *http.Server
	log    *slog.Logger
}

// NewServer builds a metrics server listening on port.
func NewServer(port string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: mux,
		},
		log: log,
	}
}

// StartAsync starts the server in a background goroutine. Listen errors
// after a successful start are logged, not returned, since the caller has
// already moved on.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
