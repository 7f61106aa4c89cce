package ticket

import (
	"context"
	"sync"
	"time"

	"helpdesk.org/internal/auth"
	"helpdesk.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps tickets and clients in process memory. Owners are
// resolved through the user store.
type MemoryStore struct {
	users auth.UserStore

	mu      sync.RWMutex
	tickets map[string]Ticket
	clients map[string]Client
}

func NewMemoryStore(users auth.UserStore) *MemoryStore {
	return &MemoryStore{
		users:   users,
		tickets: make(map[string]Ticket),
		clients: make(map[string]Client),
	}
}

// PutClient registers or replaces a client record.
func (s *MemoryStore) PutClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	s.clients[c.ID] = c
}

func (s *MemoryStore) Create(ctx context.Context, t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tickets[t.ID] = *t
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return "", ErrNotFound
	}
	prev := t.Status
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	s.tickets[id] = t
	return prev, nil
}

func (s *MemoryStore) Detail(ctx context.Context, id string) (*Detail, error) {
	s.mu.RLock()
	t, ok := s.tickets[id]
	var client *Client
	if c, found := s.clients[t.ClientID]; ok && found {
		client = &c
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	owner, err := s.users.Find(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}
	return &Detail{Ticket: t, Client: client, Owner: Owner{ID: owner.ID, Email: owner.Email}}, nil
}
