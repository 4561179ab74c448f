package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/curioworks/curio/pkg/pipeline"
	"github.com/curioworks/curio/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, pipeline.ErrContradictoryDirectives) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrTaskAlreadyActive) {
		return echo.NewHTTPError(http.StatusConflict, "another task is already active")
	}
	if errors.Is(err, services.ErrTaskTerminal) {
		return echo.NewHTTPError(http.StatusConflict, "task is already in a terminal state")
	}
	if errors.Is(err, services.ErrStaleTask) || errors.Is(err, services.ErrItemVersionConflict) {
		return echo.NewHTTPError(http.StatusConflict, "resource was modified concurrently")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
