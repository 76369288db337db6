package usecase

import (
	"context"
	"sync"
)

// MemorySessionStore is an in-process SessionStore for single-instance deployments and tests.
type MemorySessionStore struct {
	mu   sync.RWMutex
	last map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{last: make(map[string]string)}
}

func (s *MemorySessionStore) LastProvider(_ context.Context, sessionKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[sessionKey], nil
}

func (s *MemorySessionStore) SetLastProvider(_ context.Context, sessionKey, provider string) error {
	s.mu.Lock()
	s.last[sessionKey] = provider
	s.mu.Unlock()
	return nil
}
