package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/relaycove/signalrelay/pkg/metrics"
	"github.com/relaycove/signalrelay/pkg/version"
)

// healthHandler handles GET /health, returning the shape spec.md §6 names:
// {status, uptime, queue_depths, last_progress_per_component}.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := s.store.Health(reqCtx)
	status := "healthy"
	httpStatus := http.StatusOK
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := &HealthResponse{
		Status:        status,
		Version:       version.Full(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Database:      dbHealth,
	}

	if stats, statsErr := s.store.Stats(reqCtx); statsErr == nil && stats != nil {
		resp.QueueDepths = stats.QueueDepths
		resp.DailyCostUSD = stats.DailyCost
		for status, depth := range stats.QueueDepths {
			metrics.SetQueueDepth(string(status), depth)
		}
	}

	progress := make(map[string]time.Time)

	if s.analysisPool != nil {
		h := s.analysisPool.Health(reqCtx)
		resp.AnalysisPool = &poolHealthView{ActiveWorkers: h.ActiveWorkers, TotalWorkers: h.TotalWorkers}
		for _, w := range h.WorkerStats {
			progress["analysis:"+w.ID] = w.LastActivity
		}
	}
	if s.dispatchPool != nil {
		h := s.dispatchPool.Health()
		resp.DispatchPool = &poolHealthView{ActiveWorkers: h.ActiveWorkers, TotalWorkers: h.TotalWorkers}
		for _, w := range h.WorkerStats {
			progress["dispatch:"+w.ID] = w.LastActivity
		}
	}
	if s.coordinator != nil {
		cs := s.coordinator.Stats()
		resp.Coordinator = &coordinatorStatsView{Coalesced: cs.Coalesced, Dropped: cs.Dropped}
	}

	if len(progress) > 0 {
		resp.LastProgressPerComponent = progress
	}

	return c.JSON(httpStatus, resp)
}
