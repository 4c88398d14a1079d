package unlock

import (
	"context"
	"sync"
	"time"
)

// Registry tracks which unlock sessions are live. A terminal's unlock dies
// either when its token expires or when the idle TTL lapses without a
// Touch. The lock is enforced here, server-side, so a stale client cannot
// keep a terminal unlocked by ignoring its screen lock.
type Registry interface {
	Put(ctx context.Context, unlockID string, employeeID string, ttl time.Duration) error
	// Touch refreshes the idle TTL. Returns false when the unlock is gone
	// (expired or revoked); callers must treat that as a locked terminal.
	Touch(ctx context.Context, unlockID string, ttl time.Duration) (bool, error)
	Revoke(ctx context.Context, unlockID string) error
}

type entry struct {
	employeeID string
	expiresAt  time.Time
}

// Memory is the fallback registry when redis is not configured. Same
// semantics, but unlocks do not survive a process restart.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) Put(_ context.Context, unlockID string, employeeID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[unlockID] = entry{employeeID: employeeID, expiresAt: time.Now().Add(ttl)}
	m.sweepLocked()
	return nil
}

func (m *Memory) Touch(_ context.Context, unlockID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[unlockID]
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, unlockID)
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	m.entries[unlockID] = e
	return true, nil
}

func (m *Memory) Revoke(_ context.Context, unlockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, unlockID)
	return nil
}

func (m *Memory) sweepLocked() {
	now := time.Now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
