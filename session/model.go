package session

import (
	"errors"
	"time"
)

// RevokeReason records why a refresh session stopped being usable.
type RevokeReason string

const (
	ReasonRotated         RevokeReason = "ROTATED"
	ReasonTokenMismatch   RevokeReason = "TOKEN_MISMATCH"
	ReasonLogout          RevokeReason = "LOGOUT"
	ReasonLogoutAll       RevokeReason = "LOGOUT_ALL"
	ReasonAccountDisabled RevokeReason = "ACCOUNT_DISABLED"
)

var (
	ErrNotFound         = errors.New("refresh session not found")
	ErrRevoked          = errors.New("refresh session revoked")
	ErrExpired          = errors.New("refresh session expired")
	ErrTokenMismatch    = errors.New("refresh token mismatch")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Origin identifies the client a session was issued to.
type Origin struct {
	IP        string
	UserAgent string
}

// Session is one device login. Only the SHA-256 of the current refresh
// secret is kept.
type Session struct {
	ID            string
	UserID        string
	RefreshHash   [32]byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastUsedAt    time.Time
	Revoked       bool
	RevokedReason RevokeReason
	RevokedAt     time.Time
	RotatedFrom   string
	Method        string
	IP            string
	UserAgent     string
}

// Expired reports whether the absolute expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
