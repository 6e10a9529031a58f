package flows

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/credential"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/internal/limiters"
	"github.com/MrEthical07/campusauth/internal/rate"
	"github.com/MrEthical07/campusauth/internal/stores"
	"github.com/MrEthical07/campusauth/password"
	"github.com/MrEthical07/campusauth/permission"
	"github.com/MrEthical07/campusauth/session"
)

const testPassword = "Campus#Portal-2024"

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) emit(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(typ, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventType == typ && ev.Status == status {
			n++
		}
	}
	return n
}

func (r *recorder) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harness struct {
	mr       *miniredis.Miniredis
	users    *account.MemoryStore
	gate     *limiters.Gatekeeper
	sessions *session.Manager
	store    *session.RedisStore
	snaps    *permission.Builder
	codes    *stores.CodeStore
	audit    *recorder
	hooks    Hooks
	pwd      *credential.PasswordVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	argon, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("argon2: %v", err)
	}
	hasher, err := password.NewHasher(argon, true)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	users := account.NewMemoryStore(
		&account.User{ID: "u-alice", Email: "alice@college.edu", Mobile: "9876543210", PasswordHash: hash, Roles: []string{"student"}, Status: account.StatusActive, Branch: "cse"},
		&account.User{ID: "u-bob", Email: "bob@college.edu", PasswordHash: hash, Roles: []string{"faculty"}, Status: account.StatusDisabled},
	)

	reg, err := permission.NewRegistry(64, true)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for _, page := range []string{"timetable", "results", "attendance"} {
		if _, err := reg.Register(page); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	roles := permission.NewRoleManager(reg)
	if err := roles.RegisterRole("student", []string{"timetable", "results"}); err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := roles.RegisterRole("faculty", []string{"timetable", "attendance"}); err != nil {
		t.Fatalf("role: %v", err)
	}

	policy := rate.Policy{Threshold: 5, Window: 15 * time.Minute, BaseLock: time.Minute, MaxLock: time.Hour, LevelMemory: 24 * time.Hour}
	gate := limiters.NewGatekeeper(rdb, rate.NewRedisCounter(rdb, "gk"), limiters.GatekeeperConfig{
		Identifier:     policy,
		Origin:         rate.Policy{Threshold: 20, Window: 15 * time.Minute, BaseLock: time.Minute, MaxLock: time.Hour, LevelMemory: 24 * time.Hour},
		OTPCooldown:    time.Minute,
		KnownOriginTTL: 24 * time.Hour,
	})

	store := session.NewRedisStore(rdb, "rs", time.Hour)
	sessions, err := session.NewManager(store, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	rec := &recorder{}
	return &harness{
		mr:       mr,
		users:    users,
		gate:     gate,
		sessions: sessions,
		store:    store,
		snaps:    permission.NewBuilder(users, roles, stores.NewSnapshotCache(rdb, "snap"), time.Minute, nil),
		codes:    stores.NewCodeStore(rdb, "otp"),
		audit:    rec,
		hooks:    Hooks{Emit: rec.emit},
		pwd:      credential.NewPasswordVerifier(users, hasher, nil),
	}
}

func fakeIssueAccess(u *account.User, snap *permission.Snapshot, sid string) (string, time.Time, error) {
	return "access." + u.ID + "." + sid, time.Now().Add(15 * time.Minute), nil
}

func (h *harness) loginDeps() LoginDeps {
	return LoginDeps{Hooks: h.hooks, Gate: h.gate, Snapshots: h.snaps, Sessions: h.sessions, IssueAccess: fakeIssueAccess}
}

func (h *harness) refreshDeps() RefreshDeps {
	return RefreshDeps{Hooks: h.hooks, Users: h.users, Sessions: h.sessions, Snapshots: h.snaps, IssueAccess: fakeIssueAccess}
}

func (h *harness) logoutDeps() LogoutDeps {
	return LogoutDeps{Hooks: h.hooks, Sessions: h.sessions, Snapshots: h.snaps}
}

func (h *harness) login(t *testing.T, identifier, secret string) LoginResult {
	t.Helper()
	return RunLogin(context.Background(), h.pwd, credential.Input{Identifier: identifier, Secret: secret}, Origin{IP: "10.0.0.1", UserAgent: "test"}, h.loginDeps())
}
