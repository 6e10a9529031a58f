package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/internal"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/internal/limiters"
	"github.com/MrEthical07/campusauth/permission"
	"github.com/MrEthical07/campusauth/session"
)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Login    LoginDeps
	OTP      OTPDeps
	Refresh  RefreshDeps
	Logout   LogoutDeps
	Validate ValidateDeps
	Account  AccountDeps
}

// Gate is the brute-force guard as the flows see it.
type Gate interface {
	Check(ctx context.Context, ip, identifier string) error
	RecordFailure(ctx context.Context, ip, identifier string) (limiters.FailureOutcome, error)
	RecordSuccess(ctx context.Context, userID, identifier, ip, userAgent string) (bool, error)
	CheckOTPEligibility(ctx context.Context, ip, identifier string) (time.Duration, error)
	ReleaseOTPCooldown(ctx context.Context, identifier string) error
}

// Snapshots builds access snapshots.
type Snapshots interface {
	BuildFor(ctx context.Context, u *account.User) (*permission.Snapshot, error)
	Invalidate(ctx context.Context, userID string) error
}

// Sessions issues, rotates and revokes refresh sessions.
type Sessions interface {
	Create(ctx context.Context, userID, method string, origin session.Origin) (*session.Issued, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Rotate(ctx context.Context, sessionID string, secret internal.RefreshSecret, origin session.Origin, prepare session.PrepareFunc) (*session.Issued, error)
	Revoke(ctx context.Context, id string, reason session.RevokeReason) error
	RevokeAllForUser(ctx context.Context, userID string, reason session.RevokeReason) (int, error)
}

// IssueAccessFunc signs an access token for the user, snapshot and session.
type IssueAccessFunc func(u *account.User, snap *permission.Snapshot, sessionID string) (string, time.Time, error)

// Metrics carries metric IDs used by the flows.
type Metrics struct {
	LoginSuccess       int
	LoginFailure       int
	LoginLocked        int
	LockoutTriggered   int
	OTPIssued          int
	OTPCooldown        int
	RefreshSuccess     int
	RefreshFailure     int
	RefreshReuse       int
	SessionCreated     int
	SessionRevoked     int
	AccountLinked      int
	NewDevice          int
	ValidateFailure    int
	PasswordRehashed   int
	NotificationFailed int
}

// Hooks are shared ambient callbacks. Nil members are replaced with no-ops.
type Hooks struct {
	Now       func() time.Time
	MetricInc func(int)
	Emit      func(context.Context, audit.Event)
	Logger    *zap.Logger
	Metrics   Metrics
}

func (h Hooks) withDefaults() Hooks {
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.Emit == nil {
		h.Emit = func(context.Context, audit.Event) {}
	}
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	return h
}

// Origin is the client a request came from.
type Origin struct {
	IP        string
	UserAgent string
}

func (o Origin) session() session.Origin {
	return session.Origin{IP: o.IP, UserAgent: o.UserAgent}
}

func event(h Hooks, typ, status, reason string, origin Origin) audit.Event {
	now := h.Now().UTC()
	return audit.Event{
		ID:        audit.NewID(now),
		Timestamp: now,
		EventType: typ,
		Status:    status,
		Reason:    reason,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	}
}
