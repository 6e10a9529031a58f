package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/permission"
	"github.com/MrEthical07/campusauth/refresh"
	"github.com/MrEthical07/campusauth/session"
)

// RefreshFailureKind classifies refresh failures. Each kind maps to a
// distinct client-facing code.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalid
	RefreshFailureNotFound
	RefreshFailureRevoked
	RefreshFailureExpired
	RefreshFailureMismatch
	RefreshFailureAccountStatus
	RefreshFailureInternal
)

// Refresh audit reason codes.
const (
	ReasonRefreshInvalid  = "REFRESH_TOKEN_INVALID"
	ReasonRefreshNotFound = "REFRESH_SESSION_NOT_FOUND"
	ReasonRefreshRevoked  = "REFRESH_SESSION_REVOKED"
	ReasonRefreshExpired  = "REFRESH_SESSION_EXPIRED"
	ReasonRefreshMismatch = "REFRESH_TOKEN_MISMATCH"
)

// RefreshResult carries rotated tokens or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	User     *account.User
	Snapshot *permission.Snapshot
	Tokens   Tokens
}

// RefreshDeps captures rotation dependencies.
type RefreshDeps struct {
	Hooks
	Users       account.Store
	Sessions    Sessions
	Snapshots   Snapshots
	IssueAccess IssueAccessFunc
}

// RunRefresh decodes the refresh cookie, rotates the session and issues a
// fresh access token from a rebuilt snapshot. The account is re-checked
// before the old row is consumed; an account that is no longer active loses
// every session.
func RunRefresh(ctx context.Context, cookie string, origin Origin, deps RefreshDeps) RefreshResult {
	h := deps.Hooks.withDefaults()

	fail := func(kind RefreshFailureKind, reason string, err error, sid, userID string) RefreshResult {
		h.MetricInc(h.Metrics.RefreshFailure)
		ev := event(h, audit.TypeRefresh, audit.StatusFailed, reason, origin)
		ev.SessionID = sid
		ev.UserID = userID
		h.Emit(ctx, ev)
		return RefreshResult{Failure: kind, Err: err}
	}

	tok, err := refresh.Decode(cookie)
	if err != nil {
		return fail(RefreshFailureInvalid, ReasonRefreshInvalid, err, "", "")
	}

	var (
		user *account.User
		snap *permission.Snapshot
	)
	prepare := func(ctx context.Context, current *session.Session) error {
		u, err := deps.Users.FindByID(ctx, current.UserID)
		if err != nil {
			return err
		}
		if err := u.StatusError(); err != nil {
			n, rerr := deps.Sessions.RevokeAllForUser(ctx, u.ID, session.ReasonAccountDisabled)
			if rerr != nil {
				h.Logger.Error("session revoke for inactive account failed", zap.String("user_id", u.ID), zap.Error(rerr))
			}
			if n > 0 {
				h.MetricInc(h.Metrics.SessionRevoked)
			}
			return err
		}
		built, err := deps.Snapshots.BuildFor(ctx, u)
		if err != nil {
			return err
		}
		user, snap = u, built
		return nil
	}

	issued, err := deps.Sessions.Rotate(ctx, tok.SessionID, tok.Secret, origin.session(), prepare)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return fail(RefreshFailureNotFound, ReasonRefreshNotFound, err, tok.SessionID, "")
		case errors.Is(err, session.ErrRevoked):
			return fail(RefreshFailureRevoked, ReasonRefreshRevoked, err, tok.SessionID, "")
		case errors.Is(err, session.ErrExpired):
			return fail(RefreshFailureExpired, ReasonRefreshExpired, err, tok.SessionID, "")
		case errors.Is(err, session.ErrTokenMismatch):
			h.MetricInc(h.Metrics.RefreshReuse)
			h.MetricInc(h.Metrics.SessionRevoked)
			h.Logger.Warn("refresh secret mismatch, session revoked", zap.String("session_id", tok.SessionID))
			return fail(RefreshFailureMismatch, ReasonRefreshMismatch, err, tok.SessionID, "")
		case isStatusErr(err):
			return fail(RefreshFailureAccountStatus, ReasonAccountStatus, err, tok.SessionID, "")
		default:
			h.Logger.Error("refresh rotation failed", zap.String("session_id", tok.SessionID), zap.Error(err))
			return fail(RefreshFailureInternal, ReasonInternal, err, tok.SessionID, "")
		}
	}

	tokens, err := tokensFor(issued, user, snap, deps.IssueAccess)
	if err != nil {
		h.Logger.Error("access token issue failed", zap.String("session_id", issued.Session.ID), zap.Error(err))
		return fail(RefreshFailureInternal, ReasonInternal, err, issued.Session.ID, user.ID)
	}

	h.MetricInc(h.Metrics.RefreshSuccess)
	ev := event(h, audit.TypeRefresh, audit.StatusSuccess, "", origin)
	ev.UserID = user.ID
	ev.SessionID = issued.Session.ID
	ev.Method = issued.Session.Method
	ev.Metadata = map[string]string{"rotated_from": tok.SessionID}
	h.Emit(ctx, ev)

	return RefreshResult{User: user, Snapshot: snap, Tokens: tokens}
}
