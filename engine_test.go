package campusauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/federated"
)

const enginePassword = "Campus#Portal-2024"

type capturedCode struct {
	email string
	code  string
}

type stubNotifier struct {
	mu      sync.Mutex
	codes   []capturedCode
	devices []string
}

func (n *stubNotifier) SendLoginCode(_ context.Context, email, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, capturedCode{email: email, code: code})
	return nil
}

func (n *stubNotifier) NotifyNewDevice(_ context.Context, u UserView, ip, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices = append(n.devices, u.ID+"@"+ip)
	return nil
}

func (n *stubNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		return ""
	}
	return n.codes[len(n.codes)-1].code
}

type stubValidator struct {
	ids map[string]*federated.Identity
}

func (v stubValidator) Validate(_ context.Context, raw string) (*federated.Identity, error) {
	id, ok := v.ids[raw]
	if !ok {
		return nil, fmt.Errorf("%w: unknown test token", federated.ErrInvalidToken)
	}
	return id, nil
}

type engineFixture struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	users    *account.MemoryStore
	notifier *stubNotifier
	events   *auditRecorder
}

type auditRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *auditRecorder) Emit(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := validTestConfig()
	cfg.Metrics.Enabled = true
	cfg.Audit.DropIfFull = false
	if mutate != nil {
		mutate(&cfg)
	}

	users := account.NewMemoryStore()
	notifier := &stubNotifier{}
	events := &auditRecorder{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPages([]string{"timetable", "results", "attendance", "admin"}).
		WithRoles(map[string][]string{
			"student": {"timetable", "results"},
			"faculty": {"timetable", "attendance"},
			"admin":   {"*"},
		}).
		WithNotifier(notifier).
		WithAuditSink(events).
		WithFederated(stubValidator{ids: map[string]*federated.Identity{
			"tok-alice":  {Subject: "g-alice", Email: "alice@college.edu", EmailVerified: true},
			"tok-nobody": {Subject: "g-nobody", Email: "nobody@college.edu", EmailVerified: true},
		}}, nil).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword(enginePassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	users.Put(&account.User{ID: "u-alice", Email: "alice@college.edu", Username: "alice", Mobile: "9876543210", PasswordHash: hash, Roles: []string{"student"}, Status: account.StatusActive, Branch: "cse"})
	users.Put(&account.User{ID: "u-carol", Email: "carol@college.edu", PasswordHash: hash, Roles: []string{"admin"}, Status: account.StatusActive,
		Pages: account.PageOverrides{Deny: []string{"results"}}})
	users.Put(&account.User{ID: "u-bob", Email: "bob@college.edu", PasswordHash: hash, Roles: []string{"faculty"}, Status: account.StatusDisabled})

	return &engineFixture{engine: engine, mr: mr, users: users, notifier: notifier, events: events}
}

func withOrigin(ip string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), "test-agent")
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().WithConfig(validTestConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	_, err = New().WithConfig(validTestConfig()).WithRedis(rdb).
		WithPages([]string{"timetable"}).
		WithRoles(map[string][]string{"student": {"timetable"}}).
		Build()
	if err == nil {
		t.Fatal("expected error without user store")
	}

	_, err = New().WithConfig(validTestConfig()).WithRedis(rdb).
		WithUserStore(account.NewMemoryStore()).
		WithPages([]string{"timetable"}).
		WithRoles(map[string][]string{"student": {"unknown-page"}}).
		Build()
	if err == nil {
		t.Fatal("expected error for a role naming an unregistered page")
	}

	b := New().WithConfig(validTestConfig()).WithRedis(rdb).
		WithUserStore(account.NewMemoryStore()).
		WithPages([]string{"timetable"}).
		WithRoles(map[string][]string{"student": {"timetable"}})
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("a builder must only build once")
	}
}

func TestEngineZeroValueNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.LoginPassword(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestEngineLoginValidateRefreshLogout(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.Security.StrictValidation = true })
	ctx := withOrigin("10.1.1.1")

	res, err := f.engine.LoginPassword(ctx, "Alice@College.edu", enginePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.User.ID != "u-alice" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if !res.Snapshot.Allows("results") || res.Snapshot.Allows("attendance") {
		t.Fatalf("unexpected snapshot pages %v", res.Snapshot.Pages)
	}

	p, err := f.engine.ValidateAccess(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.UserID != "u-alice" || p.SessionID != res.SessionID || !p.Allows("timetable") || p.Allows("admin") {
		t.Fatalf("unexpected principal %+v", p)
	}

	next, err := f.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.SessionID == res.SessionID || next.RefreshToken == res.RefreshToken {
		t.Fatal("refresh must rotate the session")
	}

	_, err = f.engine.Refresh(ctx, res.RefreshToken)
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("replayed cookie must be revoked, got %v", err)
	}
	if KindOf(err) != KindUnauthorized || RefreshReasonCode(err) != CodeRefreshRevoked {
		t.Fatalf("unexpected classification %v %q", KindOf(err), RefreshReasonCode(err))
	}

	if err := f.engine.Logout(ctx, next.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.engine.ValidateAccess(ctx, next.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("strict validation after logout must fail, got %v", err)
	}
	if err := f.engine.Logout(ctx, next.RefreshToken); err != nil {
		t.Fatalf("second logout must be a no-op, got %v", err)
	}

	if _, err := f.engine.Refresh(ctx, "not-a-cookie"); RefreshReasonCode(err) != CodeRefreshInvalid {
		t.Fatalf("expected invalid refresh code, got %v", err)
	}

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestEngineWrongPasswordLocksAfterThreshold(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.2.2.2")

	for i := 0; i < 5; i++ {
		_, err := f.engine.LoginPassword(ctx, "alice@college.edu", "wrong-password-123")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := f.engine.LoginPassword(ctx, "alice@college.edu", enginePassword)
	if !errors.Is(err, ErrTooManyAttempts) || KindOf(err) != KindTooManyAttempts {
		t.Fatalf("expected lock, got %v", err)
	}
	if d, ok := RetryAfter(err); !ok || d <= 0 {
		t.Fatalf("expected retry hint, got %v %v", d, ok)
	}
}

func TestEngineUnknownAndWrongPasswordShareAnError(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.3.3.3")

	_, errUnknown := f.engine.LoginPassword(ctx, "ghost@college.edu", enginePassword)
	_, errWrong := f.engine.LoginPassword(ctx, "alice@college.edu", "wrong-password-123")
	if errUnknown != errWrong || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("expected identical errors, got %v and %v", errUnknown, errWrong)
	}

	if _, err := f.engine.LoginPassword(ctx, "bob@college.edu", enginePassword); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if _, err := f.engine.LoginPassword(ctx, "", ""); KindOf(err) != KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestEngineOTPRoundTrip(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.4.4.4")

	out, err := f.engine.RequestOTP(ctx, "alice@college.edu")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if out.NextRetry <= 0 {
		t.Fatalf("expected a cooldown, got %v", out.NextRetry)
	}
	code := f.notifier.lastCode()
	if code == "" {
		t.Fatal("expected a code to be sent")
	}

	if _, err := f.engine.ResendOTP(ctx, "alice@college.edu"); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("resend inside cooldown must be refused, got %v", err)
	}

	res, err := f.engine.LoginOTP(ctx, "alice@college.edu", code)
	if err != nil {
		t.Fatalf("otp login: %v", err)
	}
	if res.Method != "OTP" {
		t.Fatalf("unexpected method %q", res.Method)
	}
	if _, err := f.engine.LoginOTP(ctx, "alice@college.edu", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("consumed code must be rejected, got %v", err)
	}

	before := len(f.notifier.codes)
	if _, err := f.engine.RequestOTP(ctx, "ghost@college.edu"); err != nil {
		t.Fatalf("unknown email must get the same answer, got %v", err)
	}
	if len(f.notifier.codes) != before {
		t.Fatal("no code may be sent to an unknown email")
	}
}

func TestEngineGoogleLinksThenResolvesBySubject(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.5.5.5")

	if _, err := f.engine.LoginGoogle(ctx, "tok-alice", ""); err != nil {
		t.Fatalf("first google login: %v", err)
	}
	u, err := f.users.FindBySubject(context.Background(), "g-alice")
	if err != nil || u.ID != "u-alice" {
		t.Fatalf("expected link to u-alice, got %v %v", u, err)
	}
	if _, err := f.engine.LoginGoogle(ctx, "tok-alice", ""); err != nil {
		t.Fatalf("second google login: %v", err)
	}

	if _, err := f.engine.LoginGoogle(ctx, "tok-nobody", ""); KindOf(err) != KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := f.engine.LoginGoogle(ctx, "forged", ""); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("expected ErrInvalidAssertion, got %v", err)
	}
}

func TestEngineRootRoleRespectsDeny(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.6.6.6")

	res, err := f.engine.LoginPassword(ctx, "carol@college.edu", enginePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Snapshot.Allows("admin") || !res.Snapshot.Allows("attendance") || res.Snapshot.Allows("results") {
		t.Fatalf("unexpected root snapshot %v", res.Snapshot.Pages)
	}

	cached, err := f.engine.AccessSnapshot(ctx, "u-carol")
	if err != nil {
		t.Fatalf("AccessSnapshot: %v", err)
	}
	if cached.Allows("results") {
		t.Fatal("cached snapshot lost the deny")
	}
}

func TestEngineAccountChangedRevokesSessions(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.7.7.7")

	res, err := f.engine.LoginPassword(ctx, "alice@college.edu", enginePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.users.SetStatus("u-alice", account.StatusDisabled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := f.engine.AccountChanged(ctx, "u-alice"); err != nil {
		t.Fatalf("AccountChanged: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := f.engine.AccessSnapshot(ctx, "u-alice"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestEngineLogoutAll(t *testing.T) {
	f := newEngineFixture(t, nil)

	a, err := f.engine.LoginPassword(withOrigin("10.8.8.1"), "9876543210", enginePassword)
	if err != nil {
		t.Fatalf("login a: %v", err)
	}
	b, err := f.engine.LoginPassword(withOrigin("10.8.8.2"), "9876543210", enginePassword)
	if err != nil {
		t.Fatalf("login b: %v", err)
	}

	n, err := f.engine.LogoutAll(withOrigin("10.8.8.1"), "u-alice", a.SessionID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
	if _, err := f.engine.Refresh(context.Background(), b.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := f.engine.LogoutAll(context.Background(), "", ""); KindOf(err) != KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestEngineHealthAndReport(t *testing.T) {
	f := newEngineFixture(t, nil)

	if _, err := f.engine.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	r := f.engine.SecurityReport()
	if r.SigningAlgorithm != "hs256" || r.RegisteredPages != 4 || r.RegisteredRoles != 3 || !r.FederatedEnabled {
		t.Fatalf("unexpected report %+v", r)
	}

	f.mr.SetError("LOADING")
	if _, err := f.engine.Health(context.Background()); KindOf(err) != KindInternal {
		t.Fatalf("expected internal error with redis down, got %v", err)
	}
}

func TestEngineConcurrentRefreshSingleWinner(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := withOrigin("10.1.1.9")

	res, err := f.engine.LoginPassword(ctx, "alice@college.edu", enginePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.engine.Refresh(ctx, res.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionRevoked):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestEngineGoogleLoginHonorsIdentifierLock(t *testing.T) {
	f := newEngineFixture(t, nil)

	for i := 0; i < 5; i++ {
		if _, err := f.engine.LoginPassword(withOrigin("10.8.0.1"), "alice@college.edu", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := f.engine.LoginGoogle(withOrigin("10.8.0.2"), "tok-alice", "")
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts for a locked account, got %v", err)
	}
	if d, ok := RetryAfter(err); !ok || d <= 0 {
		t.Fatalf("expected a retry hint, got %v %v", d, ok)
	}
	if _, err := f.engine.LoginPassword(withOrigin("10.8.0.3"), "alice@college.edu", enginePassword); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("google attempt must not clear the lock, got %v", err)
	}
}

func TestEngineConcurrentOTPRequestsSendOneCode(t *testing.T) {
	f := newEngineFixture(t, nil)

	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		limited  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.RequestOTP(withOrigin("10.8.1.1"), "alice@college.edu")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrTooManyRequests):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted != 1 || limited != callers-1 {
		t.Fatalf("accepted=%d limited=%d, want a single accepted request", accepted, limited)
	}
	f.notifier.mu.Lock()
	sent := len(f.notifier.codes)
	f.notifier.mu.Unlock()
	if sent != 1 {
		t.Fatalf("expected exactly one code delivered, got %d", sent)
	}
}
