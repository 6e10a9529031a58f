package account

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and the load-test tool.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryStore(users ...*User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]*User)}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

// Put inserts or replaces a user by id.
func (s *MemoryStore) Put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	cp.Email = NormalizeEmail(cp.Email)
	s.users[u.ID] = &cp
}

func (s *MemoryStore) find(match func(*User) bool) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			cp := *u
			cp.Roles = append([]string(nil), u.Roles...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*User, error) {
	return s.find(func(u *User) bool { return u.ID == id })
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return s.find(func(u *User) bool { return u.Email == email })
}

func (s *MemoryStore) FindByMobile(_ context.Context, mobile string) (*User, error) {
	if mobile == "" {
		return nil, ErrNotFound
	}
	return s.find(func(u *User) bool { return u.Mobile == mobile })
}

func (s *MemoryStore) FindBySubject(_ context.Context, subject string) (*User, error) {
	if subject == "" {
		return nil, ErrNotFound
	}
	return s.find(func(u *User) bool { return u.FederatedSubject == subject })
}

func (s *MemoryStore) LinkSubject(_ context.Context, userID, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.FederatedSubject != "" {
		return ErrSubjectConflict
	}
	for _, other := range s.users {
		if other.FederatedSubject == subject {
			return ErrSubjectConflict
		}
	}
	u.FederatedSubject = subject
	return nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// SetStatus changes an account's status, as an admin action would.
func (s *MemoryStore) SetStatus(userID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}
