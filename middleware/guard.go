package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth"
)

// PrincipalKey is the echo context key holding the verified *campusauth.Principal.
const PrincipalKey = "campusauth.principal"

type principalContextKey struct{}

// AccessValidator verifies bearer access tokens.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*campusauth.Principal, error)
}

// PrincipalFrom returns the principal stored by RequireAccess.
func PrincipalFrom(c echo.Context) (*campusauth.Principal, bool) {
	p, ok := c.Get(PrincipalKey).(*campusauth.Principal)
	return p, ok && p != nil
}

// PrincipalFromContext is PrincipalFrom for code that only has the request
// context.
func PrincipalFromContext(ctx context.Context) (*campusauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*campusauth.Principal)
	return p, ok && p != nil
}

// RequireAccess rejects requests without a valid bearer access token. The
// verified principal is stored on both the echo and the request context.
func RequireAccess(v AccessValidator, logger *zap.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if v == nil {
				return unauthorized(c)
			}
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c)
			}

			p, err := v.ValidateAccess(c.Request().Context(), token)
			if err != nil {
				if campusauth.KindOf(err) == campusauth.KindInternal {
					logger.Error("access validation failed", zap.String("path", c.Path()), zap.Error(err))
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal error"})
				}
				logger.Debug("access token rejected", zap.String("ip", c.RealIP()), zap.Error(err))
				return unauthorized(c)
			}

			c.Set(PrincipalKey, p)
			ctx := context.WithValue(c.Request().Context(), principalContextKey{}, p)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequirePage must run after RequireAccess. It answers 403 when the token
// does not grant page.
func RequirePage(page string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return unauthorized(c)
			}
			if !p.Allows(page) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
			}
			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
