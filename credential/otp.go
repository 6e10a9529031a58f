package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/internal"
	"github.com/MrEthical07/campusauth/internal/stores"
)

// CodeConsumer checks and burns one-time codes.
type CodeConsumer interface {
	Consume(ctx context.Context, channel, purpose, identifier, codeHash string) error
}

// OTPVerifier signs users in with an emailed login code.
type OTPVerifier struct {
	users  account.Store
	codes  CodeConsumer
	digits int
}

func NewOTPVerifier(users account.Store, codes CodeConsumer, digits int) *OTPVerifier {
	return &OTPVerifier{users: users, codes: codes, digits: digits}
}

func (v *OTPVerifier) Method() Method { return MethodOTP }

// Verify consumes the code first, so a wrong guess always costs an attempt.
// Missing, expired, exhausted and wrong codes are indistinguishable.
func (v *OTPVerifier) Verify(ctx context.Context, in Input) (*Result, error) {
	email := account.NormalizeEmail(in.Identifier)
	code := strings.TrimSpace(in.Secret)
	if !account.LooksLikeEmail(email) || !v.wellFormed(code) {
		return nil, reject(FailureInvalidFormat, "", nil)
	}

	err := v.codes.Consume(ctx, ChannelEmail, PurposeLogin, email, internal.HashCode(code))
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrCodeNotFound),
		errors.Is(err, stores.ErrCodeMismatch),
		errors.Is(err, stores.ErrCodeAttemptsExceeded):
		return nil, reject(FailureInvalidCode, email, err)
	default:
		return nil, err
	}

	u, err := v.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, reject(FailureInvalidCode, email, nil)
		}
		return nil, err
	}
	if err := u.StatusError(); err != nil {
		return nil, err
	}
	return &Result{User: u, Identifier: email}, nil
}

func (v *OTPVerifier) wellFormed(code string) bool {
	if v.digits > 0 && len(code) != v.digits {
		return false
	}
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
