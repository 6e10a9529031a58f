package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/campusauth"
)

type stubValidator struct {
	principals map[string]*campusauth.Principal
	err        error
}

func (s stubValidator) ValidateAccess(_ context.Context, token string) (*campusauth.Principal, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.principals[token]
	if !ok {
		return nil, campusauth.ErrTokenInvalid
	}
	return p, nil
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAccess(t *testing.T) {
	v := stubValidator{principals: map[string]*campusauth.Principal{
		"good": {UserID: "u-alice", Pages: []string{"results", "timetable"}},
	}}

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return c.NoContent(http.StatusTeapot)
		}
		if q, ok := PrincipalFromContext(c.Request().Context()); !ok || q != p {
			return c.NoContent(http.StatusTeapot)
		}
		return c.String(http.StatusOK, p.UserID)
	}, RequireAccess(v, nil))
	e.GET("/attendance", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, RequireAccess(v, nil), RequirePage("attendance"))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic good", http.StatusUnauthorized},
		{"unknown token", "/me", "Bearer forged", http.StatusUnauthorized},
		{"valid token", "/me", "Bearer good", http.StatusOK},
		{"lower-case scheme", "/me", "bearer good", http.StatusOK},
		{"page not granted", "/attendance", "Bearer good", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec := serve(e, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestRequireAccessInternalError(t *testing.T) {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		RequireAccess(stubValidator{err: campusauth.ErrInternal}, nil))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer anything")
	if rec := serve(e, req); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestOriginPropagatesToContext(t *testing.T) {
	e := echo.New()
	e.Use(Origin())
	e.GET("/", func(c echo.Context) error {
		ctx := c.Request().Context()
		if campusauth.UserAgentFrom(ctx) != "campus-kiosk/1.0" {
			return c.NoContent(http.StatusTeapot)
		}
		return c.String(http.StatusOK, campusauth.ClientIPFrom(ctx))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.9.9.9:4444"
	req.Header.Set("User-Agent", "campus-kiosk/1.0")
	rec := serve(e, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "10.9.9.9" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestThrottlerAllowsBurstThenRefuses(t *testing.T) {
	th := NewThrottler(ThrottleConfig{PerSecond: 1, Burst: 2})
	clock := time.Unix(1_700_000_000, 0)
	th.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if ok, _ := th.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d inside burst refused", i+1)
		}
	}
	ok, wait := th.Allow("10.0.0.1")
	if ok || wait <= 0 {
		t.Fatalf("expected refusal with wait, got %v %v", ok, wait)
	}
	if ok, _ := th.Allow("10.0.0.2"); !ok {
		t.Fatal("other addresses have their own bucket")
	}

	clock = clock.Add(time.Second)
	if ok, _ := th.Allow("10.0.0.1"); !ok {
		t.Fatal("bucket must refill")
	}

	clock = clock.Add(10 * time.Minute)
	if n := th.Sweep(); n != 2 {
		t.Fatalf("expected 2 idle buckets swept, got %d", n)
	}
}

func TestThrottleMiddlewareSetsRetryAfter(t *testing.T) {
	th := NewThrottler(ThrottleConfig{PerSecond: 0.1, Burst: 1})
	e := echo.New()
	e.Use(th.Middleware())
	e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	first := serve(e, httptest.NewRequest(http.MethodPost, "/login", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := serve(e, httptest.NewRequest(http.MethodPost, "/login", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get(echo.HeaderRetryAfter) == "" {
		t.Fatal("expected Retry-After")
	}
}
