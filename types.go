package campusauth

import (
	"context"
	"time"

	"github.com/MrEthical07/campusauth/account"
	"github.com/MrEthical07/campusauth/permission"
)

// Snapshot is the effective access of one user at build time.
type Snapshot = permission.Snapshot

// UserView is the account subset returned to clients after login.
type UserView struct {
	ID         string   `json:"id"`
	Email      string   `json:"email,omitempty"`
	Username   string   `json:"username,omitempty"`
	Role       string   `json:"role,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Branch     string   `json:"branch,omitempty"`
	Department string   `json:"department,omitempty"`
}

func viewOf(u *account.User) UserView {
	if u == nil {
		return UserView{}
	}
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		Role:       u.PrimaryRole(),
		Roles:      append([]string(nil), u.Roles...),
		Branch:     u.Branch,
		Department: u.Department,
	}
}

// LoginResult is returned by every login method and by Refresh.
// RefreshToken is the opaque cookie value; it is never logged.
type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	SessionID        string
	SessionExpiresAt time.Time
	Method           string
	User             UserView
	Snapshot         *Snapshot
	NewDevice        bool
}

// OTPResult answers a code request. The answer is the same whether or not
// the email belongs to an account.
type OTPResult struct {
	NextRetry time.Duration
}

// Principal is a verified access token.
type Principal struct {
	UserID    string
	Role      string
	Branch    string
	SessionID string
	Pages     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Allows reports whether the token grants page.
func (p *Principal) Allows(page string) bool {
	if p == nil {
		return false
	}
	for _, name := range p.Pages {
		if name == page {
			return true
		}
	}
	return false
}

// Notifier delivers messages through the site's notification service.
// Delivery itself is outside the engine.
type Notifier interface {
	SendLoginCode(ctx context.Context, email, code string, ttl time.Duration) error
	NotifyNewDevice(ctx context.Context, user UserView, ip, userAgent string) error
}
