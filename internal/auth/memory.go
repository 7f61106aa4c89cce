package auth

import (
	"context"
	"sync"
	"time"

	"helpdesk.org/internal/ids"
)

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore keeps users in process memory. Used in development and tests.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.byID[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}
