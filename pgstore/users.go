package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/campusauth/account"
)

const userColumns = `id, coalesce(email, ''), coalesce(mobile, ''), coalesce(username, ''),
	password_hash, coalesce(federated_subject, ''), roles, status, branch, department, page_overrides`

// UserStore reads accounts from the users table. It implements account.Store.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*account.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where email = $1`, account.NormalizeEmail(email))
}

func (s *UserStore) FindByMobile(ctx context.Context, mobile string) (*account.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where mobile = $1`, mobile)
}

func (s *UserStore) FindBySubject(ctx context.Context, subject string) (*account.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where federated_subject = $1`, subject)
}

// LinkSubject sets federated_subject only while it is null. A subject that
// already belongs to another row trips the unique index and is reported as
// account.ErrSubjectConflict as well.
func (s *UserStore) LinkSubject(ctx context.Context, userID, subject string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set federated_subject = $2 where id = $1 and federated_subject is null`,
		userID, subject)
	if err != nil {
		if isUniqueViolation(err) {
			return account.ErrSubjectConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `select true from users where id = $1`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return account.ErrNotFound
	}
	if err != nil {
		return err
	}
	return account.ErrSubjectConflict
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash = $2 where id = $1`, userID, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (s *UserStore) findOne(ctx context.Context, query string, arg string) (*account.User, error) {
	var (
		u         account.User
		status    string
		roles     []byte
		overrides []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Mobile, &u.Username,
		&u.PasswordHash, &u.FederatedSubject, &roles, &status,
		&u.Branch, &u.Department, &overrides,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = account.Status(status)
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &u.Roles); err != nil {
			return nil, fmt.Errorf("decode roles for %s: %w", u.ID, err)
		}
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &u.Pages); err != nil {
			return nil, fmt.Errorf("decode page overrides for %s: %w", u.ID, err)
		}
	}
	return &u, nil
}
