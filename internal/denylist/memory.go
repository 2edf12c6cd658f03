package denylist

import (
	"context"
	"sync"
	"time"
)

// Memory is the single-process fallback used when no redis address is
// configured. Expired entries are dropped on read and swept on each
// revocation.
type Memory struct {
	mu sync.RWMutex
	m  map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		m: make(map[string]time.Time),
	}
}

func (s *Memory) Revoke(_ context.Context, jti string, until time.Time) error {
	now := time.Now()

	s.mu.Lock()

	// sweep entries whose tokens have expired, so jtis that are never
	// presented again do not pile up
	for k, exp := range s.m {
		if now.After(exp) {
			delete(s.m, k)
		}
	}

	s.m[jti] = until
	s.mu.Unlock()

	return nil
}

func (s *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	now := time.Now()

	s.mu.RLock()
	until, ok := s.m[jti]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if now.After(until) {
		s.mu.Lock()
		delete(s.m, jti)
		s.mu.Unlock()

		return false, nil
	}

	return true, nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	s.m = make(map[string]time.Time)
	s.mu.Unlock()

	return nil
}
