package credential

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/password"
)

// PasswordVerifier signs users in by email or mobile number and password.
type PasswordVerifier struct {
	users  account.Store
	hasher *password.Hasher
	logger *zap.Logger
}

func NewPasswordVerifier(users account.Store, hasher *password.Hasher, logger *zap.Logger) *PasswordVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordVerifier{users: users, hasher: hasher, logger: logger}
}

func (v *PasswordVerifier) Method() Method { return MethodPassword }

// Verify looks the account up by email when the identifier has an @, else by
// mobile number. Unknown identifiers and federated-only accounts still pay
// for one hash so timing does not reveal which accounts exist. Status is
// checked only after the password matched.
func (v *PasswordVerifier) Verify(ctx context.Context, in Input) (*Result, error) {
	raw := strings.TrimSpace(in.Identifier)
	if raw == "" || in.Secret == "" {
		return nil, reject(FailureInvalidFormat, "", nil)
	}

	var (
		identifier string
		lookup     func(context.Context, string) (*account.User, error)
	)
	if strings.Contains(raw, "@") {
		identifier = account.NormalizeEmail(raw)
		if !account.LooksLikeEmail(identifier) {
			return nil, reject(FailureInvalidFormat, "", nil)
		}
		lookup = v.users.FindByEmail
	} else {
		mobile, ok := account.NormalizeMobile(raw)
		if !ok {
			return nil, reject(FailureInvalidFormat, "", nil)
		}
		identifier = mobile
		lookup = v.users.FindByMobile
	}

	u, err := lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			v.hasher.Equalize(in.Secret)
			return nil, reject(FailureInvalidCredentials, identifier, nil)
		}
		return nil, err
	}
	if u.PasswordHash == "" {
		v.hasher.Equalize(in.Secret)
		return nil, reject(FailureInvalidCredentials, identifier, nil)
	}

	ok, err := v.hasher.Verify(in.Secret, u.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return nil, reject(FailureInvalidCredentials, identifier, nil)
		}
		return nil, err
	}
	if !ok {
		return nil, reject(FailureInvalidCredentials, identifier, nil)
	}
	if err := u.StatusError(); err != nil {
		return nil, err
	}

	res := &Result{User: u, Identifier: identifier}
	if v.hasher.NeedsRehash(u.PasswordHash) {
		res.Rehashed = v.upgrade(ctx, u, in.Secret)
	}
	return res, nil
}

// upgrade re-hashes with current parameters. Failure leaves the old hash in
// place and is not fatal to the login.
func (v *PasswordVerifier) upgrade(ctx context.Context, u *account.User, secret string) bool {
	hash, err := v.hasher.Hash(secret)
	if err != nil {
		v.logger.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		return false
	}
	if err := v.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		v.logger.Warn("password hash upgrade not stored", zap.String("user_id", u.ID), zap.Error(err))
		return false
	}
	u.PasswordHash = hash
	return true
}
