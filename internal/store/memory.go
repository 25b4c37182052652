package store

import (
	"context"
	"sync"
	"time"

	"aims-coach/pkg"
)

// pruneEvery controls how often Update sweeps expired entries. Expired
// sessions are also filtered on read, so the sweep only bounds memory.
const pruneEvery = 29

type memoryEntry struct {
	session   *pkg.Session
	expiresAt time.Time
}

// Memory is the process-local session store used for development and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	ops     int
	now     func() time.Time
}

// NewMemory constructs an in-process store whose entries expire ttl after
// their last write.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a snapshot of the session, treating expired entries as absent.
func (m *Memory) Get(_ context.Context, sessionID string) (*pkg.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sessionID]
	if !ok || m.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return cloneSession(e.session), true, nil
}

// Update applies fn under the store lock, creating a fresh session when the
// id is absent or expired, and refreshes the TTL.
func (m *Memory) Update(_ context.Context, sessionID string, fn func(*pkg.Session) error) (*pkg.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.ops++
	if m.ops%pruneEvery == 0 {
		m.pruneLocked(now)
	}

	e, ok := m.entries[sessionID]
	if !ok || now.After(e.expiresAt) {
		e = &memoryEntry{session: &pkg.Session{ID: sessionID, CreatedAt: now}}
		m.entries[sessionID] = e
	}
	if err := fn(e.session); err != nil {
		return nil, err
	}
	e.session.LastSeenAt = now
	e.expiresAt = now.Add(m.ttl)
	return cloneSession(e.session), nil
}

// Delete evicts the session immediately.
func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

func (m *Memory) pruneLocked(now time.Time) {
	for sid, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, sid)
		}
	}
}
