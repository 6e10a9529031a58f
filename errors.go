package campusauth

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the transport-neutral class of an Engine error. HTTP status
// codes are derived from it once, in the transport.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindTooManyAttempts
	KindTooManyRequests
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindTooManyAttempts:
		return "TooManyAttempts"
	case KindTooManyRequests:
		return "TooManyRequests"
	case KindNotFound:
		return "NotFound"
	default:
		return "Internal"
	}
}

var (
	// ErrInvalidRequest reports malformed input that never reached a verifier.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials covers unknown identifiers and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode covers wrong, consumed, expired and exhausted codes.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrInvalidAssertion reports a federated token that failed validation.
	ErrInvalidAssertion = errors.New("invalid federated assertion")
	// ErrNoLinkedAccount reports a valid federated identity with no account.
	ErrNoLinkedAccount   = errors.New("no linked account")
	ErrAccountDisabled   = errors.New("account disabled")
	ErrAccountUnverified = errors.New("account unverified")
	// ErrTooManyAttempts reports an active lock on the identifier or origin.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrTooManyRequests reports an active one-time code cooldown.
	ErrTooManyRequests = errors.New("too many requests")

	ErrRefreshInvalid  = errors.New("invalid refresh token")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session expired")
	// ErrTokenMismatch reports a refresh secret that did not match its
	// session. The session is revoked when this is returned.
	ErrTokenMismatch = errors.New("refresh token mismatch")
	ErrTokenInvalid  = errors.New("invalid token")

	ErrInternal       = errors.New("internal error")
	ErrEngineNotReady = errors.New("engine not initialized")
)

var errorKinds = map[error]ErrorKind{
	ErrInvalidRequest:     KindBadRequest,
	ErrInvalidCode:        KindBadRequest,
	ErrInvalidCredentials: KindUnauthorized,
	ErrInvalidAssertion:   KindUnauthorized,
	ErrRefreshInvalid:     KindUnauthorized,
	ErrSessionNotFound:    KindUnauthorized,
	ErrSessionRevoked:     KindUnauthorized,
	ErrSessionExpired:     KindUnauthorized,
	ErrTokenMismatch:      KindUnauthorized,
	ErrTokenInvalid:       KindUnauthorized,
	ErrAccountDisabled:    KindForbidden,
	ErrAccountUnverified:  KindForbidden,
	ErrTooManyAttempts:    KindTooManyAttempts,
	ErrTooManyRequests:    KindTooManyRequests,
	ErrNoLinkedAccount:    KindNotFound,
	ErrInternal:           KindInternal,
	ErrEngineNotReady:     KindInternal,
}

// KindOf classifies any error returned by the Engine. Unknown errors are
// Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	for sentinel, kind := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// LimitError wraps ErrTooManyAttempts or ErrTooManyRequests with the time
// after which the caller may try again.
type LimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return e.Err }

// RetryAfter extracts the retry hint from a rate error.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}

// Refresh failure codes returned to clients.
const (
	CodeRefreshRevoked  = "REFRESH_SESSION_REVOKED"
	CodeRefreshMismatch = "REFRESH_TOKEN_MISMATCH"
	CodeRefreshExpired  = "REFRESH_SESSION_EXPIRED"
	CodeRefreshNotFound = "REFRESH_SESSION_NOT_FOUND"
	CodeRefreshInvalid  = "REFRESH_TOKEN_INVALID"
)

// RefreshReasonCode maps a refresh error to its client code. It returns ""
// for errors that are not refresh failures.
func RefreshReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionRevoked):
		return CodeRefreshRevoked
	case errors.Is(err, ErrTokenMismatch):
		return CodeRefreshMismatch
	case errors.Is(err, ErrSessionExpired):
		return CodeRefreshExpired
	case errors.Is(err, ErrSessionNotFound):
		return CodeRefreshNotFound
	case errors.Is(err, ErrRefreshInvalid):
		return CodeRefreshInvalid
	default:
		return ""
	}
}
