// Package revocation provides RevocationStore implementations: an
// in-process store for tests and single node deployments, and a Redis
// store for anything shared.
package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process revocation store. Expired token ids are dropped
// lazily and by Sweep.
type Memory struct {
	mu       sync.RWMutex
	tokens   map[string]time.Time
	subjects map[string]time.Time
	now      func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		tokens:   map[string]time.Time{},
		subjects: map[string]time.Time{},
		now:      time.Now,
	}
}

// WithClock sets the clock used for expiry.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	if clock != nil {
		m.now = clock
	}
	return m
}

func (m *Memory) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	expires, ok := m.tokens[tokenID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !m.now().Before(expires) {
		m.mu.Lock()
		// a concurrent Revoke may have replaced the entry
		if current, ok := m.tokens[tokenID]; ok && !m.now().Before(current) {
			delete(m.tokens, tokenID)
		}
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (m *Memory) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenID] = m.now().Add(ttl)
	return nil
}

// Consume revokes tokenID unless an unexpired revocation already exists.
func (m *Memory) Consume(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expires, ok := m.tokens[tokenID]; ok && now.Before(expires) {
		return false, nil
	}
	m.tokens[tokenID] = now.Add(ttl)
	return true, nil
}

// RevokeAllForSubject records at as the subject's cut-off. An earlier
// cut-off never replaces a later one.
func (m *Memory) RevokeAllForSubject(_ context.Context, subject string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.subjects[subject]; ok && current.After(at) {
		return nil
	}
	m.subjects[subject] = at
	return nil
}

func (m *Memory) RevokedSince(_ context.Context, subject string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.subjects[subject]
	return at, ok, nil
}

// Sweep drops expired token ids and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, expires := range m.tokens {
		if !now.Before(expires) {
			delete(m.tokens, id)
			removed++
		}
	}
	return removed
}
