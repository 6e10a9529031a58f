package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/session"
)

// AccountDeps captures account change dependencies.
type AccountDeps struct {
	Hooks
	Users     account.Store
	Sessions  Sessions
	Snapshots Snapshots
}

// AccountResult reports what an account change did.
type AccountResult struct {
	Err     error
	Active  bool
	Revoked int
}

// RunAccountChanged reacts to an external role, branch or status edit: the
// cached snapshot is dropped, and an account that is no longer active loses
// all its sessions.
func RunAccountChanged(ctx context.Context, userID string, deps AccountDeps) AccountResult {
	h := deps.Hooks.withDefaults()

	if err := deps.Snapshots.Invalidate(ctx, userID); err != nil {
		h.Logger.Error("snapshot invalidate failed", zap.String("user_id", userID), zap.Error(err))
		return AccountResult{Err: err}
	}

	u, err := deps.Users.FindByID(ctx, userID)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return AccountResult{Err: err}
	}
	if err == nil && u.StatusError() == nil {
		return AccountResult{Active: true}
	}

	n, err := deps.Sessions.RevokeAllForUser(ctx, userID, session.ReasonAccountDisabled)
	if err != nil {
		h.Logger.Error("session revoke for inactive account failed", zap.String("user_id", userID), zap.Error(err))
		return AccountResult{Err: err}
	}
	if n > 0 {
		h.MetricInc(h.Metrics.SessionRevoked)
		h.Logger.Info("sessions revoked for inactive account", zap.String("user_id", userID), zap.Int("count", n))
	}
	return AccountResult{Revoked: n}
}
