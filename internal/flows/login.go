package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/credential"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/internal/limiters"
	"github.com/MrEthical07/campusauth/permission"
	"github.com/MrEthical07/campusauth/refresh"
	"github.com/MrEthical07/campusauth/session"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureLocked
	LoginFailureRejected
	LoginFailureAccountStatus
	LoginFailureInternal
)

// Audit reason codes written by the login flow.
const (
	ReasonLocked         = "LOCKED"
	ReasonAccountStatus  = "ACCOUNT_NOT_ACTIVE"
	ReasonInternal       = "INTERNAL_ERROR"
	ReasonThreshold      = "THRESHOLD_REACHED"
	ReasonSubjectLinked  = "SUBJECT_LINKED"
	ReasonUnknownOrigin  = "UNKNOWN_ORIGIN"
	ReasonNoAccount      = "NO_ACCOUNT"
	ReasonCoolingDown    = "COOLING_DOWN"
	ReasonMalformedToken = "MALFORMED_TOKEN"
)

// Tokens is what a successful login or refresh hands to the client.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	SessionID        string
	SessionExpiresAt time.Time
}

// LoginResult carries either issued tokens or failure metadata.
type LoginResult struct {
	Failure    LoginFailureKind
	Err        error
	Rejection  credential.Failure
	RetryAfter time.Duration
	Method     credential.Method
	User       *account.User
	Snapshot   *permission.Snapshot
	Tokens     Tokens
	NewDevice  bool
}

// NewDeviceNotifier is told about sign-ins from an unseen origin.
type NewDeviceNotifier func(ctx context.Context, u *account.User, origin Origin) error

// LoginDeps captures login dependencies shared by every verifier.
type LoginDeps struct {
	Hooks
	Gate            Gate
	Snapshots       Snapshots
	Sessions        Sessions
	IssueAccess     IssueAccessFunc
	NotifyNewDevice NewDeviceNotifier
}

// RunLogin sequences gate check, verification, lock accounting, snapshot
// build and session issuance for any verifier.
func RunLogin(ctx context.Context, v credential.Verifier, in credential.Input, origin Origin, deps LoginDeps) LoginResult {
	h := deps.Hooks.withDefaults()
	method := v.Method()
	identifier := credential.GateIdentifier(method, in)

	audited := func(status, reason string, u *account.User, id string) audit.Event {
		ev := event(h, audit.TypeLoginAttempt, status, reason, origin)
		ev.Method = string(method)
		ev.Identifier = id
		if u != nil {
			ev.UserID = u.ID
		}
		return ev
	}

	gateRefused := func(err error, u *account.User, id string) LoginResult {
		var locked *limiters.LockedError
		if errors.As(err, &locked) {
			h.MetricInc(h.Metrics.LoginLocked)
			ev := audited(audit.StatusFailed, ReasonLocked, u, id)
			ev.Metadata = map[string]string{"scope": locked.Scope}
			h.Emit(ctx, ev)
			return LoginResult{Failure: LoginFailureLocked, Err: err, RetryAfter: locked.RetryAfter, Method: method}
		}
		h.Logger.Error("gate check failed", zap.String("method", string(method)), zap.Error(err))
		h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u, id))
		return LoginResult{Failure: LoginFailureInternal, Err: err, Method: method}
	}

	if err := deps.Gate.Check(ctx, origin.IP, identifier); err != nil {
		return gateRefused(err, nil, identifier)
	}

	res, err := v.Verify(ctx, in)
	if err != nil {
		if re, ok := credential.AsRejected(err); ok {
			return loginRejected(ctx, h, deps, method, re, origin, audited)
		}
		if isStatusErr(err) {
			h.MetricInc(h.Metrics.LoginFailure)
			h.Emit(ctx, audited(audit.StatusFailed, ReasonAccountStatus, nil, identifier))
			return LoginResult{Failure: LoginFailureAccountStatus, Err: err, Method: method}
		}
		h.Logger.Error("credential verification failed", zap.String("method", string(method)), zap.Error(err))
		h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, nil, identifier))
		return LoginResult{Failure: LoginFailureInternal, Err: err, Method: method}
	}

	u := res.User
	if res.Rehashed {
		h.MetricInc(h.Metrics.PasswordRehashed)
	}

	// A Google token only names the account after verification. Its lock
	// applies just as it does to a password attempt.
	if !sameIdentifier(res.Identifier, identifier) {
		if err := deps.Gate.Check(ctx, "", res.Identifier); err != nil {
			return gateRefused(err, u, res.Identifier)
		}
	}

	newDevice, err := deps.Gate.RecordSuccess(ctx, u.ID, res.Identifier, origin.IP, origin.UserAgent)
	if err != nil {
		h.Logger.Error("gate success accounting failed", zap.String("user_id", u.ID), zap.Error(err))
		h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u, res.Identifier))
		return LoginResult{Failure: LoginFailureInternal, Err: err, Method: method}
	}

	snap, err := deps.Snapshots.BuildFor(ctx, u)
	if err != nil {
		h.Logger.Error("access snapshot build failed", zap.String("user_id", u.ID), zap.Error(err))
		h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u, res.Identifier))
		return LoginResult{Failure: LoginFailureInternal, Err: err, Method: method}
	}

	tokens, err := issueSession(ctx, deps.Sessions, deps.IssueAccess, u, snap, string(method), origin)
	if err != nil {
		h.Logger.Error("session issue failed", zap.String("user_id", u.ID), zap.Error(err))
		h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u, res.Identifier))
		return LoginResult{Failure: LoginFailureInternal, Err: err, Method: method}
	}
	h.MetricInc(h.Metrics.SessionCreated)
	h.MetricInc(h.Metrics.LoginSuccess)

	ok := audited(audit.StatusSuccess, "", u, res.Identifier)
	ok.SessionID = tokens.SessionID
	h.Emit(ctx, ok)

	if res.Linked {
		h.MetricInc(h.Metrics.AccountLinked)
		ev := event(h, audit.TypeAccountLinked, audit.StatusSuccess, ReasonSubjectLinked, origin)
		ev.Method = string(method)
		ev.UserID = u.ID
		ev.Identifier = res.Identifier
		h.Emit(ctx, ev)
	}
	if newDevice {
		h.MetricInc(h.Metrics.NewDevice)
		ev := event(h, audit.TypeNewDevice, audit.StatusSuccess, ReasonUnknownOrigin, origin)
		ev.Method = string(method)
		ev.UserID = u.ID
		ev.SessionID = tokens.SessionID
		h.Emit(ctx, ev)
		if deps.NotifyNewDevice != nil {
			if err := deps.NotifyNewDevice(ctx, u, origin); err != nil {
				h.MetricInc(h.Metrics.NotificationFailed)
				h.Logger.Warn("new device notification failed", zap.String("user_id", u.ID), zap.Error(err))
			}
		}
	}

	return LoginResult{
		Method:    method,
		User:      u,
		Snapshot:  snap,
		Tokens:    tokens,
		NewDevice: newDevice,
	}
}

func loginRejected(
	ctx context.Context,
	h Hooks,
	deps LoginDeps,
	method credential.Method,
	re *credential.RejectedError,
	origin Origin,
	audited func(string, string, *account.User, string) audit.Event,
) LoginResult {
	h.MetricInc(h.Metrics.LoginFailure)
	h.Emit(ctx, audited(audit.StatusFailed, string(re.Failure), nil, re.Identifier))

	result := LoginResult{Failure: LoginFailureRejected, Err: re, Rejection: re.Failure, Method: method}
	if re.Failure == credential.FailureInvalidFormat {
		return result
	}

	outcome, err := deps.Gate.RecordFailure(ctx, origin.IP, re.Identifier)
	if err != nil {
		h.Logger.Error("failure accounting failed", zap.String("method", string(method)), zap.Error(err))
		return result
	}
	if outcome.IdentifierLocked || outcome.OriginLocked {
		h.MetricInc(h.Metrics.LockoutTriggered)
		scope := "identifier"
		if !outcome.IdentifierLocked {
			scope = "origin"
		}
		ev := event(h, audit.TypeLockout, audit.StatusSuccess, ReasonThreshold, origin)
		ev.Method = string(method)
		ev.Identifier = re.Identifier
		ev.Metadata = map[string]string{
			"scope":      scope,
			"locked_for": outcome.LockedFor.String(),
		}
		h.Emit(ctx, ev)
	}
	return result
}

// issueSession creates a refresh session and signs the paired access token.
func issueSession(
	ctx context.Context,
	sessions Sessions,
	issueAccess IssueAccessFunc,
	u *account.User,
	snap *permission.Snapshot,
	method string,
	origin Origin,
) (Tokens, error) {
	issued, err := sessions.Create(ctx, u.ID, method, origin.session())
	if err != nil {
		return Tokens{}, err
	}
	return tokensFor(issued, u, snap, issueAccess)
}

func tokensFor(issued *session.Issued, u *account.User, snap *permission.Snapshot, issueAccess IssueAccessFunc) (Tokens, error) {
	access, accessExp, err := issueAccess(u, snap, issued.Session.ID)
	if err != nil {
		return Tokens{}, err
	}
	cookie, err := refresh.Encode(refresh.Token{SessionID: issued.Session.ID, Secret: issued.Secret})
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     cookie,
		SessionID:        issued.Session.ID,
		SessionExpiresAt: issued.Session.ExpiresAt,
	}, nil
}

func sameIdentifier(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func isStatusErr(err error) bool {
	return errors.Is(err, account.ErrDisabled) || errors.Is(err, account.ErrUnverified)
}
