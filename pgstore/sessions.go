package pgstore

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/campusauth/session"
)

const sessionColumns = `id, user_id, refresh_hash, created_at, expires_at, last_used_at,
	revoked, revoked_reason, revoked_at, rotated_from, method, ip, user_agent`

// SessionStore keeps refresh sessions in refresh_sessions. It implements
// session.Store; Rotate relies on a conditional update inside a transaction.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session requires an id")
	}
	if err := insertSession(ctx, s.db, sess); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from refresh_sessions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return sess, nil
}

func (s *SessionStore) Rotate(ctx context.Context, oldID string, presented [32]byte, next *session.Session, now time.Time) error {
	if next == nil || next.ID == "" {
		return errors.New("rotation requires a next session")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_sessions
		set revoked = true, revoked_reason = $4, revoked_at = $3, last_used_at = $3
		where id = $1 and refresh_hash = $2 and not revoked and expires_at > $3`,
		oldID, presented[:], now, string(session.ReasonRotated))
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}

	if n == 1 {
		if err := insertSession(ctx, tx, next); err != nil {
			return unavailable(err)
		}
		if err := tx.Commit(); err != nil {
			return unavailable(err)
		}
		return nil
	}

	// The guard failed; find out which condition did.
	current, err := scanSession(tx.QueryRowContext(ctx,
		`select `+sessionColumns+` from refresh_sessions where id = $1 for update`, oldID))
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	if err != nil {
		return unavailable(err)
	}

	switch {
	case current.Revoked:
		return fmt.Errorf("%w: %s", session.ErrRevoked, current.RevokedReason)
	case current.Expired(now):
		return session.ErrExpired
	case subtle.ConstantTimeCompare(current.RefreshHash[:], presented[:]) != 1:
		if _, err := tx.ExecContext(ctx, `
			update refresh_sessions
			set revoked = true, revoked_reason = $2, revoked_at = $3
			where id = $1 and not revoked`,
			oldID, string(session.ReasonTokenMismatch), now); err != nil {
			return unavailable(err)
		}
		if err := tx.Commit(); err != nil {
			return unavailable(err)
		}
		return session.ErrTokenMismatch
	default:
		return unavailable(errors.New("rotate guard failed on a live row"))
	}
}

func (s *SessionStore) Revoke(ctx context.Context, id string, reason session.RevokeReason, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_sessions
		set revoked = true, revoked_reason = $2, revoked_at = $3
		where id = $1 and not revoked`,
		id, string(reason), now)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string, reason session.RevokeReason, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_sessions
		set revoked = true, revoked_reason = $2, revoked_at = $3
		where user_id = $1 and not revoked`,
		userID, string(reason), now)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// PurgeExpired deletes rows whose expiry passed before cutoff.
func (s *SessionStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_sessions where expires_at < $1`, cutoff)
	if err != nil {
		return 0, unavailable(err)
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertSession(ctx context.Context, db execer, sess *session.Session) error {
	_, err := db.ExecContext(ctx, `
		insert into refresh_sessions
			(id, user_id, refresh_hash, created_at, expires_at, last_used_at,
			 revoked, rotated_from, method, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, false, $7, $8, $9, $10)`,
		sess.ID, sess.UserID, sess.RefreshHash[:], sess.CreatedAt, sess.ExpiresAt, sess.LastUsedAt,
		nullString(sess.RotatedFrom), sess.Method, sess.IP, sess.UserAgent)
	return err
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var (
		sess        session.Session
		hash        []byte
		reason      sql.NullString
		revokedAt   sql.NullTime
		rotatedFrom sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.UserID, &hash, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastUsedAt,
		&sess.Revoked, &reason, &revokedAt, &rotatedFrom, &sess.Method, &sess.IP, &sess.UserAgent,
	)
	if err != nil {
		return nil, err
	}
	if len(hash) != len(sess.RefreshHash) {
		return nil, errors.New("corrupt refresh hash")
	}
	copy(sess.RefreshHash[:], hash)
	sess.RevokedReason = session.RevokeReason(reason.String)
	if revokedAt.Valid {
		sess.RevokedAt = revokedAt.Time
	}
	sess.RotatedFrom = rotatedFrom.String
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
}
