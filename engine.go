package campusauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/credential"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/internal/flows"
	"github.com/MrEthical07/campusauth/internal/limiters"
	"github.com/MrEthical07/campusauth/internal/stores"
	"github.com/MrEthical07/campusauth/jwt"
	"github.com/MrEthical07/campusauth/password"
	"github.com/MrEthical07/campusauth/permission"
	"github.com/MrEthical07/campusauth/session"
)

// Engine is the authentication core. It is built once by Builder and is
// safe for concurrent use.
type Engine struct {
	config      Config
	registry    *permission.Registry
	roleManager *permission.RoleManager
	users       account.Store
	redis       redis.UniversalClient
	gate        *limiters.Gatekeeper
	codes       *stores.CodeStore
	sessions    *session.Manager
	snapshots   *permission.Builder
	jwtManager  *jwt.Manager
	hasher      *password.Hasher
	verifiers   map[credential.Method]credential.Verifier
	notifier    Notifier
	audit       *audit.Dispatcher
	metrics     *Metrics
	logger      *zap.Logger
	flows       flows.Service
	closers     []func()
}

func (e *Engine) wireFlows() flows.Service {
	hooks := flows.Hooks{
		Now:       time.Now,
		MetricInc: func(id int) { e.metrics.Inc(MetricID(id)) },
		Emit:      e.emitAudit,
		Logger:    e.logger,
		Metrics: flows.Metrics{
			LoginSuccess:       int(MetricLoginSuccess),
			LoginFailure:       int(MetricLoginFailure),
			LoginLocked:        int(MetricLoginLocked),
			LockoutTriggered:   int(MetricLockoutTriggered),
			OTPIssued:          int(MetricOTPIssued),
			OTPCooldown:        int(MetricOTPCooldown),
			RefreshSuccess:     int(MetricRefreshSuccess),
			RefreshFailure:     int(MetricRefreshFailure),
			RefreshReuse:       int(MetricRefreshReuse),
			SessionCreated:     int(MetricSessionCreated),
			SessionRevoked:     int(MetricSessionRevoked),
			AccountLinked:      int(MetricAccountLinked),
			NewDevice:          int(MetricNewDevice),
			ValidateFailure:    int(MetricValidateFailure),
			PasswordRehashed:   int(MetricPasswordRehashed),
			NotificationFailed: int(MetricNotificationFailed),
		},
	}

	var notify flows.NewDeviceNotifier
	var send flows.CodeSender
	if e.notifier != nil {
		notify = func(ctx context.Context, u *account.User, origin flows.Origin) error {
			return e.notifier.NotifyNewDevice(ctx, viewOf(u), origin.IP, origin.UserAgent)
		}
		send = e.notifier.SendLoginCode
	}

	return flows.New(flows.Deps{
		Login: flows.LoginDeps{
			Hooks:           hooks,
			Gate:            e.gate,
			Snapshots:       e.snapshots,
			Sessions:        e.sessions,
			IssueAccess:     e.issueAccess,
			NotifyNewDevice: notify,
		},
		OTP: flows.OTPDeps{
			Hooks:    hooks,
			Gate:     e.gate,
			Users:    e.users,
			Codes:    e.codes,
			Send:     send,
			Digits:   e.config.OTP.Digits,
			TTL:      e.config.OTP.TTL,
			Attempts: e.config.OTP.MaxAttempts,
		},
		Refresh: flows.RefreshDeps{
			Hooks:       hooks,
			Users:       e.users,
			Sessions:    e.sessions,
			Snapshots:   e.snapshots,
			IssueAccess: e.issueAccess,
		},
		Logout: flows.LogoutDeps{
			Hooks:     hooks,
			Sessions:  e.sessions,
			Snapshots: e.snapshots,
		},
		Validate: flows.ValidateDeps{
			Hooks:    hooks,
			Parse:    e.jwtManager.ParseAccess,
			Sessions: e.sessions,
		},
		Account: flows.AccountDeps{
			Hooks:     hooks,
			Users:     e.users,
			Sessions:  e.sessions,
			Snapshots: e.snapshots,
		},
	})
}

func (e *Engine) issueAccess(u *account.User, snap *permission.Snapshot, sessionID string) (string, time.Time, error) {
	in := jwt.AccessInput{
		UserID:    u.ID,
		Role:      u.PrimaryRole(),
		Branch:    u.Branch,
		SessionID: sessionID,
	}
	if snap != nil {
		in.Mask = snap.Mask
	}
	return e.jwtManager.CreateAccess(in)
}

func (e *Engine) emitAudit(ctx context.Context, ev audit.Event) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(ctx, ev)
}

func (e *Engine) ready() error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

func originFrom(ctx context.Context) flows.Origin {
	return flows.Origin{
		IP:        ClientIPFrom(ctx),
		UserAgent: UserAgentFrom(ctx),
	}
}

// LoginPassword authenticates by email, mobile number or username plus
// password.
func (e *Engine) LoginPassword(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	return e.login(ctx, credential.MethodPassword, credential.Input{Identifier: identifier, Secret: secret})
}

// LoginOTP consumes a one-time code previously sent to email.
func (e *Engine) LoginOTP(ctx context.Context, email, code string) (*LoginResult, error) {
	return e.login(ctx, credential.MethodOTP, credential.Input{Identifier: email, Secret: code})
}

// LoginGoogle accepts either a Google ID token or an authorization code.
func (e *Engine) LoginGoogle(ctx context.Context, idToken, code string) (*LoginResult, error) {
	return e.login(ctx, credential.MethodGoogle, credential.Input{IDToken: idToken, Code: code})
}

func (e *Engine) login(ctx context.Context, method credential.Method, in credential.Input) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	v, ok := e.verifiers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s login is not enabled", ErrInvalidRequest, method)
	}

	res := e.flows.Login(ctx, v, in, originFrom(ctx))
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureLocked:
		return nil, &LimitError{Err: ErrTooManyAttempts, RetryAfter: res.RetryAfter}
	case flows.LoginFailureRejected:
		return nil, rejectionError(res.Rejection)
	case flows.LoginFailureAccountStatus:
		return nil, statusError(res.Err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}

	return &LoginResult{
		AccessToken:      res.Tokens.AccessToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshToken:     res.Tokens.RefreshToken,
		SessionID:        res.Tokens.SessionID,
		SessionExpiresAt: res.Tokens.SessionExpiresAt,
		Method:           string(res.Method),
		User:             viewOf(res.User),
		Snapshot:         res.Snapshot,
		NewDevice:        res.NewDevice,
	}, nil
}

func rejectionError(f credential.Failure) error {
	switch f {
	case credential.FailureInvalidFormat:
		return ErrInvalidRequest
	case credential.FailureInvalidCode:
		return ErrInvalidCode
	case credential.FailureInvalidToken:
		return ErrInvalidAssertion
	case credential.FailureNoLinkedAccount:
		return ErrNoLinkedAccount
	default:
		return ErrInvalidCredentials
	}
}

func statusError(err error) error {
	if errors.Is(err, account.ErrUnverified) {
		return ErrAccountUnverified
	}
	return ErrAccountDisabled
}

// RequestOTP sends a login code to email. Unknown emails receive the same
// answer without a code being generated.
func (e *Engine) RequestOTP(ctx context.Context, email string) (*OTPResult, error) {
	return e.requestOTP(ctx, email, false)
}

// ResendOTP replaces any outstanding code for email. It shares the request
// cooldown.
func (e *Engine) ResendOTP(ctx context.Context, email string) (*OTPResult, error) {
	return e.requestOTP(ctx, email, true)
}

func (e *Engine) requestOTP(ctx context.Context, email string, resend bool) (*OTPResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	res := e.flows.RequestOTP(ctx, email, resend, originFrom(ctx))
	switch res.Failure {
	case flows.OTPFailureNone:
		return &OTPResult{NextRetry: res.NextRetry}, nil
	case flows.OTPFailureBadInput:
		return nil, ErrInvalidRequest
	case flows.OTPFailureLocked:
		return nil, &LimitError{Err: ErrTooManyAttempts, RetryAfter: res.RetryAfter}
	case flows.OTPFailureCoolingDown:
		return nil, &LimitError{Err: ErrTooManyRequests, RetryAfter: res.RetryAfter}
	default:
		return nil, fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}
}

// Refresh rotates the session named by the refresh cookie and returns a new
// access token together with the replacement cookie value.
func (e *Engine) Refresh(ctx context.Context, cookie string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	res := e.flows.Refresh(ctx, cookie, originFrom(ctx))
	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureInvalid:
		return nil, ErrRefreshInvalid
	case flows.RefreshFailureNotFound:
		return nil, ErrSessionNotFound
	case flows.RefreshFailureRevoked:
		return nil, ErrSessionRevoked
	case flows.RefreshFailureExpired:
		return nil, ErrSessionExpired
	case flows.RefreshFailureMismatch:
		return nil, ErrTokenMismatch
	case flows.RefreshFailureAccountStatus:
		return nil, statusError(res.Err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}

	return &LoginResult{
		AccessToken:      res.Tokens.AccessToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshToken:     res.Tokens.RefreshToken,
		SessionID:        res.Tokens.SessionID,
		SessionExpiresAt: res.Tokens.SessionExpiresAt,
		User:             viewOf(res.User),
		Snapshot:         res.Snapshot,
	}, nil
}

// Logout revokes the session named by the refresh cookie. Unknown and
// already revoked sessions succeed.
func (e *Engine) Logout(ctx context.Context, cookie string) error {
	if err := e.ready(); err != nil {
		return err
	}
	res := e.flows.Logout(ctx, cookie, originFrom(ctx))
	switch res.Failure {
	case flows.LogoutFailureNone:
		return nil
	case flows.LogoutFailureInvalid:
		if errors.Is(res.Err, session.ErrTokenMismatch) {
			return ErrTokenMismatch
		}
		return ErrRefreshInvalid
	default:
		return fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}
}

// LogoutAll revokes every session of userID. sessionID, when known, names
// the session that asked for it and is only recorded in the audit log.
func (e *Engine) LogoutAll(ctx context.Context, userID, sessionID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	res := e.flows.LogoutAll(ctx, userID, sessionID, originFrom(ctx))
	switch res.Failure {
	case flows.LogoutFailureNone:
		return res.Revoked, nil
	case flows.LogoutFailureInvalid:
		return 0, ErrInvalidRequest
	default:
		return 0, fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}
}

// ValidateAccess verifies an access token. With Security.StrictValidation
// the backing session must also be live.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	res := e.flows.Validate(ctx, token, e.config.Security.StrictValidation)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureUnauthorized:
		if errors.Is(res.Err, session.ErrRevoked) {
			return nil, ErrSessionRevoked
		}
		if errors.Is(res.Err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, ErrTokenInvalid
	default:
		return nil, fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}
	return e.principalOf(res.Claims), nil
}

func (e *Engine) principalOf(c *jwt.AccessClaims) *Principal {
	p := &Principal{
		UserID:    c.UID,
		Role:      c.Role,
		Branch:    c.Branch,
		SessionID: c.SID,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	if len(c.Mask) > 0 {
		mask, err := permission.DecodeMask(c.Mask)
		if err != nil {
			e.logger.Warn("access token carries an undecodable mask", zap.String("session_id", c.SID), zap.Error(err))
		} else {
			p.Pages = e.registry.Names(mask)
		}
	}
	return p
}

// AccessSnapshot returns the user's snapshot, from cache when present.
// A miss rebuilds it from the account, which must still be active.
func (e *Engine) AccessSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	snap, hit, err := e.snapshots.Cached(ctx, userID)
	if err != nil {
		e.logger.Warn("access snapshot cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	if hit {
		return snap, nil
	}

	u, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := u.StatusError(); err != nil {
		return nil, statusError(err)
	}
	snap, err = e.snapshots.BuildFor(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return snap, nil
}

// AccountChanged must be called after an external edit to a user's roles,
// branch, overrides or status. The cached snapshot is dropped and an account
// that is no longer active loses every session.
func (e *Engine) AccountChanged(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return ErrInvalidRequest
	}
	res := e.flows.AccountChanged(ctx, userID)
	if res.Err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, res.Err)
	}
	return nil
}

// Health pings Redis and reports the round trip.
func (e *Engine) Health(ctx context.Context) (time.Duration, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	start := time.Now()
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: redis ping: %v", ErrInternal, err)
	}
	return time.Since(start), nil
}

// Registry exposes the frozen page registry.
func (e *Engine) Registry() *permission.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

// SessionTTL is the refresh-session lifetime, used for cookie max-age.
func (e *Engine) SessionTTL() time.Duration {
	if e == nil || e.sessions == nil {
		return 0
	}
	return e.sessions.TTL()
}

// Close drains the audit buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	for _, c := range e.closers {
		c()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// HashPassword returns an argon2id hash with the configured cost, for
// account provisioning.
func (e *Engine) HashPassword(plain string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	return e.hasher.Hash(plain)
}
