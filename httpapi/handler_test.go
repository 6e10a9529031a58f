package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/campusauth"
	"github.com/MrEthical07/campusauth/account"
)

const testPassword = "Campus#Portal-2024"

type codeBox struct {
	mu   sync.Mutex
	last string
}

func (b *codeBox) SendLoginCode(_ context.Context, _, code string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = code
	return nil
}

func (b *codeBox) NotifyNewDevice(context.Context, campusauth.UserView, string, string) error {
	return nil
}

type fixture struct {
	e     *echo.Echo
	codes *codeBox
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := campusauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	users := account.NewMemoryStore()
	codes := &codeBox{}
	engine, err := campusauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPages([]string{"timetable", "results"}).
		WithRoles(map[string][]string{"student": {"timetable", "results"}}).
		WithNotifier(codes).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	users.Put(&account.User{ID: "u-alice", Email: "alice@college.edu", PasswordHash: hash, Roles: []string{"student"}, Status: account.StatusActive})
	users.Put(&account.User{ID: "u-bob", Email: "bob@college.edu", PasswordHash: hash, Roles: []string{"student"}, Status: account.StatusDisabled})

	e := echo.New()
	cookie := DefaultCookieConfig()
	cookie.Secure = false
	NewHandler(engine, cookie, nil).Register(e, "/api/auth", http.NotFoundHandler(), nil)
	return &fixture{e: e, codes: codes, mr: mr}
}

func (f *fixture) do(method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "campus_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestLoginSetsCookieAndMe(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/login", `{"identifier":"alice@college.edu","password":"`+testPassword+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var out loginResponse
	decode(t, rec, &out)
	if out.AccessToken == "" || out.User.ID != "u-alice" {
		t.Fatalf("unexpected login body %+v", out)
	}
	c := sessionCookie(t, rec)
	if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode || c.Path != "/api/auth" || c.MaxAge <= 0 {
		t.Fatalf("unexpected cookie attributes %+v", c)
	}
	if strings.Contains(rec.Body.String(), c.Value) {
		t.Fatal("refresh cookie value must not appear in the body")
	}

	me := f.do(http.MethodGet, "/api/auth/me", "", func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+out.AccessToken)
	})
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d: %s", me.Code, me.Body.String())
	}
	var body meResponse
	decode(t, me, &body)
	if body.UserID != "u-alice" || len(body.Pages) != 2 || body.Snapshot == nil {
		t.Fatalf("unexpected me body %+v", body)
	}

	if rec := f.do(http.MethodGet, "/api/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me without token = %d", rec.Code)
	}
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body string
		want int
		msg  string
	}{
		{"malformed json", `{"identifier":`, http.StatusBadRequest, "Invalid request"},
		{"wrong password", `{"identifier":"alice@college.edu","password":"not-the-password"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"unknown user", `{"identifier":"ghost@college.edu","password":"not-the-password"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"disabled account", `{"identifier":"bob@college.edu","password":"` + testPassword + `"}`, http.StatusForbidden, "Account disabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/auth/login", tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
			var body errorBody
			decode(t, rec, &body)
			if body.Error != tc.msg {
				t.Fatalf("message = %q, want %q", body.Error, tc.msg)
			}
		})
	}
}

func TestLockoutSendsRetryAfter(t *testing.T) {
	f := newFixture(t)
	bad := `{"identifier":"alice@college.edu","password":"not-the-password"}`
	for i := 0; i < 5; i++ {
		f.do(http.MethodPost, "/api/auth/login", bad, nil)
	}
	rec := f.do(http.MethodPost, "/api/auth/login", `{"identifier":"alice@college.edu","password":"`+testPassword+`"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get(echo.HeaderRetryAfter) == "" {
		t.Fatal("expected Retry-After")
	}
}

func TestRefreshRotatesAndReplayFails(t *testing.T) {
	f := newFixture(t)

	login := f.do(http.MethodPost, "/api/auth/login", `{"identifier":"alice@college.edu","password":"`+testPassword+`"}`, nil)
	first := sessionCookie(t, login)

	rec := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(first))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}
	second := sessionCookie(t, rec)
	if second.Value == first.Value {
		t.Fatal("cookie must rotate")
	}

	replay := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(first))
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d", replay.Code)
	}
	var body errorBody
	decode(t, replay, &body)
	if body.Code != campusauth.CodeRefreshRevoked {
		t.Fatalf("code = %q", body.Code)
	}
	if c := sessionCookie(t, replay); c.MaxAge >= 0 {
		t.Fatal("failed refresh must clear the cookie")
	}

	missing := f.do(http.MethodPost, "/api/auth/refresh", "", nil)
	decode(t, missing, &body)
	if missing.Code != http.StatusUnauthorized || body.Code != campusauth.CodeRefreshInvalid {
		t.Fatalf("missing cookie: %d %q", missing.Code, body.Code)
	}
}

func TestLogoutAndLogoutAll(t *testing.T) {
	f := newFixture(t)
	creds := `{"identifier":"alice@college.edu","password":"` + testPassword + `"}`

	a := f.do(http.MethodPost, "/api/auth/login", creds, nil)
	if rec := f.do(http.MethodPost, "/api/auth/logout", "", withCookie(sessionCookie(t, a))); rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(sessionCookie(t, a))); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/auth/logout", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout without cookie = %d", rec.Code)
	}

	b := f.do(http.MethodPost, "/api/auth/login", creds, nil)
	c := f.do(http.MethodPost, "/api/auth/login", creds, nil)
	var out loginResponse
	decode(t, b, &out)

	rec := f.do(http.MethodPost, "/api/auth/logout/all", "", func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+out.AccessToken)
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout/all status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(sessionCookie(t, c))); rec.Code != http.StatusUnauthorized {
		t.Fatalf("other session must be revoked, got %d", rec.Code)
	}
}

func TestOTPFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"alice@college.edu"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("request status = %d: %s", rec.Code, rec.Body.String())
	}
	var out otpResponse
	decode(t, rec, &out)
	if out.NextRetryInSeconds != 60 {
		t.Fatalf("nextRetryInSeconds = %d", out.NextRetryInSeconds)
	}

	if rec := f.do(http.MethodPost, "/api/auth/otp/resend", `{"email":"alice@college.edu"}`, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("resend during cooldown = %d", rec.Code)
	}

	bad := f.do(http.MethodPost, "/api/auth/otp/verify", `{"email":"alice@college.edu","otp":"000000x"}`, nil)
	var body errorBody
	decode(t, bad, &body)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad code status = %d", bad.Code)
	}

	f.codes.mu.Lock()
	code := f.codes.last
	f.codes.mu.Unlock()
	ok := f.do(http.MethodPost, "/api/auth/otp/verify", `{"email":"alice@college.edu","otp":"`+code+`"}`, nil)
	if ok.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", ok.Code, ok.Body.String())
	}
	sessionCookie(t, ok)
}

func TestGoogleDisabledAndHealth(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/auth/google", `{}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty google body = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/auth/google", `{"token":"x"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("google without configuration = %d", rec.Code)
	}

	if rec := f.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	f.mr.SetError("LOADING")
	if rec := f.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with redis failing = %d", rec.Code)
	}
}
