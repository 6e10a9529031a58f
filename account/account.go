package account

import (
	"context"
	"errors"
	"strings"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive     Status = "active"
	StatusDisabled   Status = "disabled"
	StatusUnverified Status = "unverified"
)

var (
	// ErrNotFound is returned by stores when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrDisabled reports an account that may not sign in.
	ErrDisabled = errors.New("account disabled")
	// ErrUnverified reports an account whose registration is not confirmed.
	ErrUnverified = errors.New("account unverified")
	// ErrSubjectConflict is returned when a federated subject is already
	// linked to the account or to another account.
	ErrSubjectConflict = errors.New("federated subject already linked")
)

// PageOverrides adjusts the role-derived page set for one user.
type PageOverrides struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
	Extra []string `json:"extra,omitempty"`
}

// User is the account record the authentication core reads.
type User struct {
	ID               string
	Email            string
	Mobile           string
	Username         string
	PasswordHash     string
	FederatedSubject string
	Roles            []string
	Status           Status
	Branch           string
	Department       string
	Pages            PageOverrides
}

// PrimaryRole is the role carried in access tokens.
func (u *User) PrimaryRole() string {
	if u == nil || len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0]
}

// StatusError maps a non-active status to its error.
func (u *User) StatusError() error {
	if u == nil {
		return ErrNotFound
	}
	switch u.Status {
	case StatusActive, "":
		return nil
	case StatusUnverified:
		return ErrUnverified
	default:
		return ErrDisabled
	}
}

// Store is the account persistence the core depends on. Registration and
// profile edits live outside the core.
type Store interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByMobile(ctx context.Context, mobile string) (*User, error)
	FindBySubject(ctx context.Context, subject string) (*User, error)
	// LinkSubject sets the federated subject only when none is set. It
	// returns ErrSubjectConflict otherwise.
	LinkSubject(ctx context.Context, userID, subject string) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LooksLikeEmail is a shape check, not RFC validation.
func LooksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at != strings.LastIndexByte(s, '@') {
		return false
	}
	domain := s[at+1:]
	if len(domain) < 3 || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	if !strings.Contains(domain, ".") || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	return true
}

// NormalizeMobile strips separators and validates 10 to 15 digits with an
// optional leading plus. It reports false for anything else.
func NormalizeMobile(s string) (string, bool) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", false
		}
	}
	out := b.String()
	digits := len(strings.TrimPrefix(out, "+"))
	if digits < 10 || digits > 15 {
		return "", false
	}
	return out, true
}
