package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/campusauth/internal"
)

// Issued pairs a stored session with the raw refresh secret. The secret is
// returned to the client once and never persisted.
type Issued struct {
	Session *Session
	Secret  internal.RefreshSecret
}

// PrepareFunc runs after the presented secret matched and before the
// rotation is committed. Returning an error aborts the rotation.
type PrepareFunc func(ctx context.Context, current *Session) error

// Manager issues, rotates and revokes refresh sessions over a Store.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create opens a new session for userID.
func (m *Manager) Create(ctx context.Context, userID, method string, origin Origin) (*Issued, error) {
	if userID == "" {
		return nil, errors.New("session requires a user")
	}
	issued, err := m.mint(userID, method, origin, "")
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, issued.Session); err != nil {
		return nil, err
	}
	return issued, nil
}

// Get returns the stored session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Rotate exchanges a refresh secret for a new session and secret.
//
// A secret that does not match a live session revokes that session with
// TOKEN_MISMATCH. When two requests race with the same secret exactly one
// wins; the other gets ErrRevoked.
func (m *Manager) Rotate(ctx context.Context, sessionID string, secret internal.RefreshSecret, origin Origin, prepare PrepareFunc) (*Issued, error) {
	current, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if current.Revoked {
		return nil, fmt.Errorf("%w: %s", ErrRevoked, current.RevokedReason)
	}
	if current.Expired(now) {
		return nil, ErrExpired
	}

	presented := internal.HashRefreshSecret(secret)
	if subtle.ConstantTimeCompare(presented[:], current.RefreshHash[:]) != 1 {
		if err := m.store.Revoke(ctx, current.ID, ReasonTokenMismatch, now); err != nil {
			return nil, err
		}
		return nil, ErrTokenMismatch
	}

	if prepare != nil {
		if err := prepare(ctx, current); err != nil {
			return nil, err
		}
	}

	method := current.Method
	if origin.IP == "" && origin.UserAgent == "" {
		origin = Origin{IP: current.IP, UserAgent: current.UserAgent}
	}
	next, err := m.mint(current.UserID, method, origin, current.ID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Rotate(ctx, current.ID, presented, next.Session, m.now()); err != nil {
		return nil, err
	}
	return next, nil
}

// Revoke marks one session revoked. Unknown ids are not an error.
func (m *Manager) Revoke(ctx context.Context, id string, reason RevokeReason) error {
	return m.store.Revoke(ctx, id, reason, m.now())
}

func (m *Manager) RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason) (int, error) {
	return m.store.RevokeAllForUser(ctx, userID, reason, m.now())
}

func (m *Manager) mint(userID, method string, origin Origin, rotatedFrom string) (*Issued, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	now := m.now()
	return &Issued{
		Session: &Session{
			ID:          id.String(),
			UserID:      userID,
			RefreshHash: internal.HashRefreshSecret(secret),
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.ttl),
			LastUsedAt:  now,
			RotatedFrom: rotatedFrom,
			Method:      method,
			IP:          origin.IP,
			UserAgent:   origin.UserAgent,
		},
		Secret: secret,
	}, nil
}
