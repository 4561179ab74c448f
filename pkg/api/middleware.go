package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requireBearerToken returns middleware that rejects requests whose
// Authorization header does not carry the expected bearer token.
func requireBearerToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing admin token")
			}
			return next(c)
		}
	}
}
