package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/curioworks/curio/pkg/models"
)

// requestBodyLimit caps how much of a request body is read. Preferences
// payloads are tiny; anything larger is not a legitimate request.
const requestBodyLimit = 64 << 10

type createTaskRequest struct {
	Preferences json.RawMessage `json:"preferences"`
}

// createTaskHandler handles POST /tasks. Preferences are parsed strictly;
// an unknown field rejects the whole request rather than silently running
// a task the caller did not ask for.
func (s *Server) createTaskHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, requestBodyLimit))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var req createTaskRequest
	if err := dec.Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if len(req.Preferences) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "preferences is required")
	}

	prefs, err := models.ParsePreferences(req.Preferences)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	task, err := s.controller.Start(c.Request().Context(), *prefs)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &TaskCreatedResponse{TaskID: task.TaskID})
}

// cancelTaskHandler handles POST /tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	if err := s.controller.Stop(c.Request().Context(), taskID); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &CancelResponse{Accepted: true})
}

// activeTaskHandler handles GET /tasks/active. Returns the active task
// or a JSON null when nothing is running.
func (s *Server) activeTaskHandler(c *echo.Context) error {
	task, err := s.tasks.GetActiveTask(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

// getTaskHandler handles GET /tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}

	task, err := s.tasks.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

// listTasksHandler handles GET /tasks. Status and kind values are
// validated by the service layer.
func (s *Server) listTasksHandler(c *echo.Context) error {
	filters := models.TaskFilters{
		Status: models.TaskStatus(c.QueryParam("status")),
		Kind:   models.RunMode(c.QueryParam("kind")),
	}

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
		filters.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be a non-negative integer")
		}
		filters.Offset = n
	}
	if v := c.QueryParam("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_archived: must be a boolean")
		}
		filters.IncludeArchived = b
	}

	result, err := s.tasks.ListTasks(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// taskLogsHandler handles GET /tasks/:id/logs. Cursor pagination over the
// append-only task log: clients resume from next_cursor without gaps.
func (s *Server) taskLogsHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	if _, err := s.tasks.GetTask(c.Request().Context(), taskID); err != nil {
		return mapServiceError(err)
	}

	var sinceSequence int64
	if v := c.QueryParam("since_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_sequence: must be a non-negative integer")
		}
		sinceSequence = n
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
		limit = n
	}

	page, err := s.logs.List(c.Request().Context(), taskID, sinceSequence, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// taskEventsHandler handles GET /tasks/:id/events. Serves the recent
// ring, oldest first, optionally filtered to a comma-separated set of
// event types. Best effort: the ring is bounded, the logs API is the
// authoritative record.
func (s *Server) taskEventsHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	if _, err := s.tasks.GetTask(c.Request().Context(), taskID); err != nil {
		return mapServiceError(err)
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a positive integer")
		}
		limit = n
	}

	var kinds map[string]bool
	if v := c.QueryParam("kinds"); v != "" {
		kinds = make(map[string]bool)
		for _, k := range strings.Split(v, ",") {
			kinds[strings.TrimSpace(k)] = true
		}
	}

	raw, err := s.queue.RecentEvents(c.Request().Context(), taskID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	events := make([]json.RawMessage, 0, len(raw))
	for _, payload := range raw {
		if kinds != nil {
			var envelope struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(payload, &envelope) != nil || !kinds[envelope.Type] {
				continue
			}
		}
		events = append(events, json.RawMessage(payload))
	}

	return c.JSON(http.StatusOK, &EventsResponse{Events: events})
}
