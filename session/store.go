package session

import (
	"context"
	"time"
)

// Store persists refresh sessions. Implementations must make Rotate a single
// atomic step: the old row is revoked with ROTATED and next is inserted only
// if the old row is still live and its hash equals presented.
//
// Rotate returns ErrNotFound, ErrRevoked, ErrExpired or ErrTokenMismatch when
// the condition fails. On ErrTokenMismatch the old row is revoked with
// TOKEN_MISMATCH.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Rotate(ctx context.Context, oldID string, presented [32]byte, next *Session, now time.Time) error
	// Revoke is idempotent; the first reason recorded wins.
	Revoke(ctx context.Context, id string, reason RevokeReason, now time.Time) error
	// RevokeAllForUser returns the number of sessions newly revoked.
	RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int, error)
}
