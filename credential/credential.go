package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/campusauth/account"
)

// Method names a login path. The values appear in audit entries and on
// sessions.
type Method string

const (
	MethodPassword Method = "PASSWORD"
	MethodOTP      Method = "OTP"
	MethodGoogle   Method = "GOOGLE"
)

// Failure classifies a rejected credential.
type Failure string

const (
	FailureInvalidFormat      Failure = "INVALID_FORMAT"
	FailureInvalidCredentials Failure = "INVALID_CREDENTIALS"
	FailureInvalidCode        Failure = "INVALID_OR_EXPIRED_CODE"
	FailureInvalidToken       Failure = "INVALID_TOKEN"
	FailureNoLinkedAccount    Failure = "NO_LINKED_ACCOUNT"
)

// One-time code namespace used for login codes.
const (
	ChannelEmail = "email"
	PurposeLogin = "login"
)

// Input carries whatever the client presented. Each verifier reads only the
// fields of its method.
type Input struct {
	Identifier string
	// Secret is the password or the one-time login code.
	Secret  string
	IDToken string
	// Code is a Google authorization code.
	Code string
}

// Result is a verified credential.
type Result struct {
	User       *account.User
	Identifier string
	Linked     bool
	Rehashed   bool
}

// RejectedError reports a credential that did not verify. Identifier is the
// normalized key the caller should charge the failure to, and may be empty
// when the input was unusable.
type RejectedError struct {
	Failure    Failure
	Identifier string
	Err        error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential rejected: %s: %v", e.Failure, e.Err)
	}
	return "credential rejected: " + string(e.Failure)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func reject(f Failure, identifier string, err error) error {
	return &RejectedError{Failure: f, Identifier: identifier, Err: err}
}

// AsRejected extracts a RejectedError.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Verifier checks one kind of credential. Implementations return a
// *RejectedError for bad credentials, an account status error for a verified
// but unusable account, and any other error for backend failures.
type Verifier interface {
	Method() Method
	Verify(ctx context.Context, in Input) (*Result, error)
}

// GateIdentifier is the normalized identifier the brute-force guard keys on
// before verification. Federated logins have none until the token is read.
func GateIdentifier(method Method, in Input) string {
	raw := strings.TrimSpace(in.Identifier)
	switch method {
	case MethodPassword:
		if strings.Contains(raw, "@") {
			return account.NormalizeEmail(raw)
		}
		if mobile, ok := account.NormalizeMobile(raw); ok {
			return mobile
		}
		return ""
	case MethodOTP:
		return account.NormalizeEmail(raw)
	default:
		return ""
	}
}
