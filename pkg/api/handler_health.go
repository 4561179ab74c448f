package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/curioworks/curio/pkg/database"
	"github.com/curioworks/curio/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz.
// Returns a minimal, safe response suitable for unauthenticated access.
// Database and queue failures are unhealthy (503); a degraded worker pool
// keeps the endpoint at 200 so the orchestrator does not restart a pod
// that can still serve reads.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if pool, err := database.CheckPool(reqCtx, s.db); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy, Message: pool.Describe()}
	}

	if _, err := s.queue.Health(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["queue"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["queue"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		if poolHealth != nil && !poolHealth.IsHealthy {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			msg := healthStatusUnhealthy
			if poolHealth.QueueError != "" {
				msg = poolHealth.QueueError
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

// versionHandler handles GET /version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &VersionResponse{
		Name:      version.AppName,
		Version:   version.GitCommit,
		BuildTime: version.BuildTime,
	})
}
