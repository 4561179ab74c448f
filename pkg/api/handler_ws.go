package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// progress hub. Origins beyond same-host must be allow-listed.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request().Context(), conn)
	return nil
}
