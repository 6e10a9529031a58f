package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/credential"
	"github.com/MrEthical07/campusauth/internal"
	"github.com/MrEthical07/campusauth/internal/audit"
	"github.com/MrEthical07/campusauth/internal/limiters"
)

// OTPFailureKind classifies code-request failures.
type OTPFailureKind int

const (
	OTPFailureNone OTPFailureKind = iota
	OTPFailureBadInput
	OTPFailureLocked
	OTPFailureCoolingDown
	OTPFailureInternal
)

// OTPResult reports the outcome of a code request.
type OTPResult struct {
	Failure    OTPFailureKind
	Err        error
	RetryAfter time.Duration
	// NextRetry is the cooldown claimed by a successful request.
	NextRetry time.Duration
}

// CodeSaver persists hashed one-time codes.
type CodeSaver interface {
	Save(ctx context.Context, channel, purpose, identifier, codeHash string, attempts int, ttl time.Duration) error
}

// CodeSender delivers a login code. Delivery transport is external.
type CodeSender func(ctx context.Context, email, code string, ttl time.Duration) error

// OTPDeps captures code-request dependencies.
type OTPDeps struct {
	Hooks
	Gate     Gate
	Users    account.Store
	Codes    CodeSaver
	Send     CodeSender
	Digits   int
	TTL      time.Duration
	Attempts int
}

// RunRequestOTP issues a login code. Unknown and inactive emails get the same
// answer as known ones, including the cooldown, but no code is generated.
func RunRequestOTP(ctx context.Context, rawEmail string, resend bool, origin Origin, deps OTPDeps) OTPResult {
	h := deps.Hooks.withDefaults()
	typ := audit.TypeOTPRequest
	if resend {
		typ = audit.TypeResendOTP
	}
	email := account.NormalizeEmail(rawEmail)

	audited := func(status, reason, userID string) audit.Event {
		ev := event(h, typ, status, reason, origin)
		ev.Method = string(credential.MethodOTP)
		ev.Identifier = email
		ev.UserID = userID
		return ev
	}

	if !account.LooksLikeEmail(email) {
		h.Emit(ctx, audited(audit.StatusFailed, string(credential.FailureInvalidFormat), ""))
		return OTPResult{Failure: OTPFailureBadInput}
	}

	next, err := deps.Gate.CheckOTPEligibility(ctx, origin.IP, email)
	if err != nil {
		var locked *limiters.LockedError
		var cooling *limiters.CoolingDownError
		switch {
		case errors.As(err, &locked):
			h.MetricInc(h.Metrics.LoginLocked)
			h.Emit(ctx, audited(audit.StatusFailed, ReasonLocked, ""))
			return OTPResult{Failure: OTPFailureLocked, Err: err, RetryAfter: locked.RetryAfter}
		case errors.As(err, &cooling):
			h.MetricInc(h.Metrics.OTPCooldown)
			h.Emit(ctx, audited(audit.StatusFailed, ReasonCoolingDown, ""))
			return OTPResult{Failure: OTPFailureCoolingDown, Err: err, RetryAfter: cooling.RetryAfter}
		default:
			h.Logger.Error("otp eligibility check failed", zap.Error(err))
			h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, ""))
			return OTPResult{Failure: OTPFailureInternal, Err: err}
		}
	}

	// Nothing went out, so the claimed window goes back.
	release := func() {
		if err := deps.Gate.ReleaseOTPCooldown(ctx, email); err != nil {
			h.Logger.Warn("otp cooldown release failed", zap.Error(err))
		}
	}

	u, err := deps.Users.FindByEmail(ctx, email)
	switch {
	case err == nil && u.StatusError() == nil:
	case err == nil || errors.Is(err, account.ErrNotFound):
		u = nil
	default:
		release()
		h.Logger.Error("otp user lookup failed", zap.Error(err))
		h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, ""))
		return OTPResult{Failure: OTPFailureInternal, Err: err}
	}

	if u != nil {
		code, err := internal.NewOTP(deps.Digits)
		if err != nil {
			release()
			h.Logger.Error("otp generation failed", zap.Error(err))
			h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u.ID))
			return OTPResult{Failure: OTPFailureInternal, Err: err}
		}
		err = deps.Codes.Save(ctx, credential.ChannelEmail, credential.PurposeLogin, email, internal.HashCode(code), deps.Attempts, deps.TTL)
		if err != nil {
			release()
			h.Logger.Error("otp store failed", zap.String("user_id", u.ID), zap.Error(err))
			h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u.ID))
			return OTPResult{Failure: OTPFailureInternal, Err: err}
		}
		if deps.Send != nil {
			if err := deps.Send(ctx, email, code, deps.TTL); err != nil {
				release()
				h.MetricInc(h.Metrics.NotificationFailed)
				h.Logger.Error("otp delivery failed", zap.String("user_id", u.ID), zap.Error(err))
				h.Emit(ctx, audited(audit.StatusFailed, ReasonInternal, u.ID))
				return OTPResult{Failure: OTPFailureInternal, Err: err}
			}
		}
	}

	if u == nil {
		h.Emit(ctx, audited(audit.StatusFailed, ReasonNoAccount, ""))
		return OTPResult{NextRetry: next}
	}
	h.MetricInc(h.Metrics.OTPIssued)
	h.Emit(ctx, audited(audit.StatusSuccess, "", u.ID))
	return OTPResult{NextRetry: next}
}
