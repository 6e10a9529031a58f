package flows

import (
	"context"

	"github.com/MrEthical07/campusauth/credential"
)

// Service is the flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Validate.Parse != nil
}

func (s Service) Login(ctx context.Context, v credential.Verifier, in credential.Input, origin Origin) LoginResult {
	return RunLogin(ctx, v, in, origin, s.deps.Login)
}

func (s Service) RequestOTP(ctx context.Context, email string, resend bool, origin Origin) OTPResult {
	return RunRequestOTP(ctx, email, resend, origin, s.deps.OTP)
}

func (s Service) Refresh(ctx context.Context, cookie string, origin Origin) RefreshResult {
	return RunRefresh(ctx, cookie, origin, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, cookie string, origin Origin) LogoutResult {
	return RunLogout(ctx, cookie, origin, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID, sessionID string, origin Origin) LogoutResult {
	return RunLogoutAll(ctx, userID, sessionID, origin, s.deps.Logout)
}

func (s Service) Validate(ctx context.Context, token string, strict bool) ValidateResult {
	return RunValidate(ctx, token, strict, s.deps.Validate)
}

func (s Service) AccountChanged(ctx context.Context, userID string) AccountResult {
	return RunAccountChanged(ctx, userID, s.deps.Account)
}
