package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/jwt"
	"github.com/MrEthical07/campusauth/session"
)

// ValidateFailureKind classifies access-token validation failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureInternal
)

// ValidateResult carries verified claims.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	Hooks
	Parse    func(token string) (*jwt.AccessClaims, error)
	Sessions Sessions
}

// RunValidate verifies an access token. With strict set, the session the
// token was minted for must also still be live, which makes logout and
// theft revocation effective before the token expires.
func RunValidate(ctx context.Context, token string, strict bool, deps ValidateDeps) ValidateResult {
	h := deps.Hooks.withDefaults()

	claims, err := deps.Parse(token)
	if err != nil {
		h.MetricInc(h.Metrics.ValidateFailure)
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}
	if !strict {
		return ValidateResult{Claims: claims}
	}

	sess, err := deps.Sessions.Get(ctx, claims.SID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		h.MetricInc(h.Metrics.ValidateFailure)
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	case err != nil:
		h.Logger.Error("strict validation session read failed", zap.String("session_id", claims.SID), zap.Error(err))
		return ValidateResult{Failure: ValidateFailureInternal, Err: err}
	}
	// A session rotated away still backs tokens minted before the rotation.
	if sess.UserID != claims.UID || sess.Expired(h.Now()) ||
		(sess.Revoked && sess.RevokedReason != session.ReasonRotated) {
		h.MetricInc(h.Metrics.ValidateFailure)
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: session.ErrRevoked}
	}
	return ValidateResult{Claims: claims}
}
