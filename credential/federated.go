package credential

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/federated"
)

// FederatedVerifier signs users in with a Google ID token, or with an
// authorization code when an exchanger is configured.
type FederatedVerifier struct {
	users     account.Store
	validator federated.Validator
	exchanger federated.Exchanger
	logger    *zap.Logger
}

func NewFederatedVerifier(users account.Store, validator federated.Validator, exchanger federated.Exchanger, logger *zap.Logger) *FederatedVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FederatedVerifier{users: users, validator: validator, exchanger: exchanger, logger: logger}
}

func (v *FederatedVerifier) Method() Method { return MethodGoogle }

// Verify resolves the account by federated subject. On a miss it falls back
// to the verified email and links the subject to that account, which must
// not already carry another subject.
func (v *FederatedVerifier) Verify(ctx context.Context, in Input) (*Result, error) {
	if v.validator == nil {
		return nil, reject(FailureInvalidToken, "", errors.New("federated login not configured"))
	}

	raw := in.IDToken
	if raw == "" && in.Code != "" {
		if v.exchanger == nil {
			return nil, reject(FailureInvalidFormat, "", nil)
		}
		tok, err := v.exchanger.Exchange(ctx, in.Code)
		if err != nil {
			return nil, reject(FailureInvalidToken, "", err)
		}
		raw = tok
	}
	if raw == "" {
		return nil, reject(FailureInvalidFormat, "", nil)
	}

	id, err := v.validator.Validate(ctx, raw)
	if err != nil {
		if errors.Is(err, federated.ErrInvalidToken) {
			return nil, reject(FailureInvalidToken, "", err)
		}
		return nil, err
	}
	identifier := id.Email
	if identifier == "" {
		identifier = "sub:" + id.Subject
	}

	u, err := v.users.FindBySubject(ctx, id.Subject)
	switch {
	case err == nil:
		if err := u.StatusError(); err != nil {
			return nil, err
		}
		return &Result{User: u, Identifier: identifier}, nil
	case !errors.Is(err, account.ErrNotFound):
		return nil, err
	}

	if id.Email == "" || !id.EmailVerified {
		return nil, reject(FailureNoLinkedAccount, identifier, nil)
	}
	u, err = v.users.FindByEmail(ctx, id.Email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, reject(FailureNoLinkedAccount, identifier, nil)
		}
		return nil, err
	}
	if u.FederatedSubject != "" {
		v.logger.Warn("email matches an account linked to another subject", zap.String("user_id", u.ID))
		return nil, reject(FailureNoLinkedAccount, identifier, nil)
	}
	if err := u.StatusError(); err != nil {
		return nil, err
	}

	if err := v.users.LinkSubject(ctx, u.ID, id.Subject); err != nil {
		if !errors.Is(err, account.ErrSubjectConflict) {
			return nil, err
		}
		// A concurrent login may have linked the same subject first.
		linked, ferr := v.users.FindBySubject(ctx, id.Subject)
		if ferr != nil || linked.ID != u.ID {
			return nil, reject(FailureNoLinkedAccount, identifier, err)
		}
		return &Result{User: linked, Identifier: identifier}, nil
	}
	u.FederatedSubject = id.Subject
	return &Result{User: u, Identifier: identifier, Linked: true}, nil
}
