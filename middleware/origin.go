package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/campusauth"
)

// Origin copies the client address and user agent into the request context,
// where the engine reads them for lockout accounting and audit. The address
// comes from echo's RealIP, so configure Echo.IPExtractor behind a proxy.
func Origin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := campusauth.WithClientIP(req.Context(), c.RealIP())
			ctx = campusauth.WithUserAgent(ctx, req.UserAgent())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
