package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/internal"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/refresh"
	"github.com/MrEthical07/campusauth/session"
)

// LogoutFailureKind classifies logout failures.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureInvalid
	LogoutFailureInternal
)

// LogoutResult reports a logout outcome. Revoked counts sessions closed.
type LogoutResult struct {
	Failure LogoutFailureKind
	Err     error
	UserID  string
	Revoked int
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Hooks
	Sessions  Sessions
	Snapshots Snapshots
}

// RunLogout revokes the session named by the refresh cookie. The presented
// secret must match the stored hash, so a leaked session id alone cannot
// sign someone out. Unknown or already revoked sessions succeed silently.
func RunLogout(ctx context.Context, cookie string, origin Origin, deps LogoutDeps) LogoutResult {
	h := deps.Hooks.withDefaults()

	tok, err := refresh.Decode(cookie)
	if err != nil {
		ev := event(h, audit.TypeLogout, audit.StatusFailed, ReasonRefreshInvalid, origin)
		h.Emit(ctx, ev)
		return LogoutResult{Failure: LogoutFailureInvalid, Err: err}
	}

	current, err := deps.Sessions.Get(ctx, tok.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return LogoutResult{}
		}
		h.Logger.Error("logout session read failed", zap.String("session_id", tok.SessionID), zap.Error(err))
		return LogoutResult{Failure: LogoutFailureInternal, Err: err}
	}
	if current.Revoked {
		return LogoutResult{UserID: current.UserID}
	}

	presented := internal.HashRefreshSecret(tok.Secret)
	if subtle.ConstantTimeCompare(presented[:], current.RefreshHash[:]) != 1 {
		ev := event(h, audit.TypeLogout, audit.StatusFailed, ReasonRefreshMismatch, origin)
		ev.SessionID = current.ID
		ev.UserID = current.UserID
		h.Emit(ctx, ev)
		return LogoutResult{Failure: LogoutFailureInvalid, Err: session.ErrTokenMismatch, UserID: current.UserID}
	}

	if err := deps.Sessions.Revoke(ctx, current.ID, session.ReasonLogout); err != nil {
		h.Logger.Error("logout revoke failed", zap.String("session_id", current.ID), zap.Error(err))
		return LogoutResult{Failure: LogoutFailureInternal, Err: err, UserID: current.UserID}
	}
	h.MetricInc(h.Metrics.SessionRevoked)

	ev := event(h, audit.TypeLogout, audit.StatusSuccess, string(session.ReasonLogout), origin)
	ev.SessionID = current.ID
	ev.UserID = current.UserID
	ev.Method = current.Method
	h.Emit(ctx, ev)
	return LogoutResult{UserID: current.UserID, Revoked: 1}
}

// RunLogoutAll revokes every session of the user and drops the cached
// snapshot.
func RunLogoutAll(ctx context.Context, userID, sessionID string, origin Origin, deps LogoutDeps) LogoutResult {
	h := deps.Hooks.withDefaults()
	if userID == "" {
		return LogoutResult{Failure: LogoutFailureInvalid, Err: errors.New("user id is required")}
	}

	n, err := deps.Sessions.RevokeAllForUser(ctx, userID, session.ReasonLogoutAll)
	if err != nil {
		h.Logger.Error("logout-all revoke failed", zap.String("user_id", userID), zap.Error(err))
		ev := event(h, audit.TypeLogout, audit.StatusFailed, ReasonInternal, origin)
		ev.UserID = userID
		ev.SessionID = sessionID
		h.Emit(ctx, ev)
		return LogoutResult{Failure: LogoutFailureInternal, Err: err, UserID: userID}
	}
	if n > 0 {
		h.MetricInc(h.Metrics.SessionRevoked)
	}
	if deps.Snapshots != nil {
		if err := deps.Snapshots.Invalidate(ctx, userID); err != nil {
			h.Logger.Warn("snapshot invalidate failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	ev := event(h, audit.TypeLogout, audit.StatusSuccess, string(session.ReasonLogoutAll), origin)
	ev.UserID = userID
	ev.SessionID = sessionID
	ev.Metadata = map[string]string{"revoked": strconv.Itoa(n)}
	h.Emit(ctx, ev)
	return LogoutResult{UserID: userID, Revoked: n}
}
