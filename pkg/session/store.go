package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken indicates no token is stored for the tenant.
var ErrNoToken = errors.New("no session token")

// Store persists tokens keyed by tenant id.
type Store interface {
	Get(ctx context.Context, tenant string) (Token, error)
	Set(ctx context.Context, tenant string, token Token) error
	Delete(ctx context.Context, tenant string) error
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

// Get returns the token for tenant or ErrNoToken.
func (s *MemoryStore) Get(_ context.Context, tenant string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tenant]
	if !ok {
		return Token{}, ErrNoToken
	}
	return token, nil
}

// Set replaces the token for tenant.
func (s *MemoryStore) Set(_ context.Context, tenant string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tenant] = token
	return nil
}

// Delete removes the token for tenant. Deleting a missing tenant is not an error.
func (s *MemoryStore) Delete(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tenant)
	return nil
}
