package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth"
	"github.com/MrEthical07/campusauth/middleware"
)

// Engine is the part of *campusauth.Engine the handlers use.
type Engine interface {
	LoginPassword(ctx context.Context, identifier, password string) (*campusauth.LoginResult, error)
	LoginOTP(ctx context.Context, email, code string) (*campusauth.LoginResult, error)
	LoginGoogle(ctx context.Context, idToken, code string) (*campusauth.LoginResult, error)
	RequestOTP(ctx context.Context, email string) (*campusauth.OTPResult, error)
	ResendOTP(ctx context.Context, email string) (*campusauth.OTPResult, error)
	Refresh(ctx context.Context, cookie string) (*campusauth.LoginResult, error)
	Logout(ctx context.Context, cookie string) error
	LogoutAll(ctx context.Context, userID, sessionID string) (int, error)
	ValidateAccess(ctx context.Context, token string) (*campusauth.Principal, error)
	AccessSnapshot(ctx context.Context, userID string) (*campusauth.Snapshot, error)
	Health(ctx context.Context) (time.Duration, error)
}

// Handler serves the /api/auth routes.
type Handler struct {
	engine Engine
	cookie CookieConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(engine Engine, cookie CookieConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cookie.Name == "" {
		cookie = DefaultCookieConfig()
	}
	return &Handler{engine: engine, cookie: cookie, logger: logger, now: time.Now}
}

// Register mounts the auth routes under base (normally "/api/auth") and
// /healthz at the root. metrics, when non-nil, is served at /metrics.
func (h *Handler) Register(e *echo.Echo, base string, metrics http.Handler, throttle echo.MiddlewareFunc) {
	e.GET("/healthz", h.health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	g := e.Group(base, middleware.Origin())
	credentials := []echo.MiddlewareFunc{}
	if throttle != nil {
		credentials = append(credentials, throttle)
	}
	g.POST("/login", h.login, credentials...)
	g.POST("/otp/request", h.requestOTP, credentials...)
	g.POST("/otp/resend", h.resendOTP, credentials...)
	g.POST("/otp/verify", h.verifyOTP, credentials...)
	g.POST("/google", h.google, credentials...)
	g.POST("/refresh", h.refresh)
	g.POST("/logout", h.logout)

	guard := middleware.RequireAccess(h.engine, h.logger)
	g.POST("/logout/all", h.logoutAll, guard)
	g.GET("/me", h.me, guard)
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type googleRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type loginResponse struct {
	AccessToken string              `json:"accessToken"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	User        campusauth.UserView `json:"user"`
	Pages       []string            `json:"pages,omitempty"`
	NewDevice   bool                `json:"newDevice,omitempty"`
}

type otpResponse struct {
	Message            string `json:"message"`
	NextRetryInSeconds int    `json:"nextRetryInSeconds"`
}

type meResponse struct {
	UserID    string               `json:"userId"`
	Role      string               `json:"role,omitempty"`
	Branch    string               `json:"branch,omitempty"`
	SessionID string               `json:"sessionId"`
	Pages     []string             `json:"pages"`
	ExpiresAt time.Time            `json:"expiresAt"`
	Snapshot  *campusauth.Snapshot `json:"snapshot,omitempty"`
}

func (h *Handler) bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return campusauth.ErrInvalidRequest
	}
	return nil
}

func (h *Handler) login(c echo.Context) error {
	var req loginRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.engine.LoginPassword(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return h.issued(c, res)
}

func (h *Handler) verifyOTP(c echo.Context) error {
	var req verifyRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.engine.LoginOTP(c.Request().Context(), req.Email, req.OTP)
	if err != nil {
		return h.fail(c, err)
	}
	return h.issued(c, res)
}

func (h *Handler) google(c echo.Context) error {
	var req googleRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.Token == "" && req.Code == "" {
		return h.fail(c, campusauth.ErrInvalidRequest)
	}
	res, err := h.engine.LoginGoogle(c.Request().Context(), req.Token, req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	return h.issued(c, res)
}

func (h *Handler) requestOTP(c echo.Context) error {
	return h.otp(c, h.engine.RequestOTP)
}

func (h *Handler) resendOTP(c echo.Context) error {
	return h.otp(c, h.engine.ResendOTP)
}

func (h *Handler) otp(c echo.Context, send func(context.Context, string) (*campusauth.OTPResult, error)) error {
	var req emailRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := send(c.Request().Context(), req.Email)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, otpResponse{
		Message:            "If the address belongs to an account, a code has been sent",
		NextRetryInSeconds: int(res.NextRetry.Round(time.Second) / time.Second),
	})
}

func (h *Handler) refresh(c echo.Context) error {
	cookie, err := c.Cookie(h.cookie.Name)
	if err != nil || cookie.Value == "" {
		c.SetCookie(h.cookie.cleared())
		return h.fail(c, campusauth.ErrRefreshInvalid)
	}
	res, err := h.engine.Refresh(c.Request().Context(), cookie.Value)
	if err != nil {
		if campusauth.KindOf(err) != campusauth.KindInternal {
			c.SetCookie(h.cookie.cleared())
		}
		return h.fail(c, err)
	}
	return h.issued(c, res)
}

func (h *Handler) logout(c echo.Context) error {
	c.SetCookie(h.cookie.cleared())
	cookie, err := c.Cookie(h.cookie.Name)
	if err != nil || cookie.Value == "" {
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.engine.Logout(c.Request().Context(), cookie.Value); err != nil {
		if campusauth.KindOf(err) == campusauth.KindInternal {
			return h.fail(c, err)
		}
		h.logger.Info("logout with unusable cookie", zap.String("ip", c.RealIP()), zap.Error(err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) logoutAll(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.fail(c, campusauth.ErrTokenInvalid)
	}
	if _, err := h.engine.LogoutAll(c.Request().Context(), p.UserID, p.SessionID); err != nil {
		return h.fail(c, err)
	}
	c.SetCookie(h.cookie.cleared())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.fail(c, campusauth.ErrTokenInvalid)
	}
	snap, err := h.engine.AccessSnapshot(c.Request().Context(), p.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	pages := p.Pages
	if pages == nil {
		pages = []string{}
	}
	return c.JSON(http.StatusOK, meResponse{
		UserID:    p.UserID,
		Role:      p.Role,
		Branch:    p.Branch,
		SessionID: p.SessionID,
		Pages:     pages,
		ExpiresAt: p.ExpiresAt,
		Snapshot:  snap,
	})
}

func (h *Handler) health(c echo.Context) error {
	latency, err := h.engine.Health(c.Request().Context())
	if err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"redisLatencyMs": latency.Milliseconds(),
	})
}

func (h *Handler) issued(c echo.Context, res *campusauth.LoginResult) error {
	c.SetCookie(h.cookie.session(res.RefreshToken, res.SessionExpiresAt, h.now()))
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")

	out := loginResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
		User:        res.User,
		NewDevice:   res.NewDevice,
	}
	if res.Snapshot != nil {
		out.Pages = res.Snapshot.Pages
	}
	return c.JSON(http.StatusOK, out)
}
