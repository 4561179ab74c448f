package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// adminResetHandler handles POST /admin/reset. Revokes every unfinished
// task and clears their rings and sequence counters.
func (s *Server) adminResetHandler(c *echo.Context) error {
	count, err := s.reaper.ComprehensiveReset(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ResetResponse{TasksRevoked: count})
}

// adminArchiveHandler handles POST /admin/archive. older_than overrides
// the configured retention for this one sweep.
func (s *Server) adminArchiveHandler(c *echo.Context) error {
	retention := s.taskCfg.ArchiveRetention
	if v := c.QueryParam("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid older_than: must be a positive duration like 720h")
		}
		retention = d
	}

	count, err := s.tasks.ArchiveTasksOlderThan(c.Request().Context(), retention)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ArchiveResponse{TasksArchived: count})
}
