// Package lock provides per-key mutual exclusion for settlement attempts.
// The replay ledger's check-then-record sequence is not atomic on its own; a
// lock on the (subnet, commit-height) key held across the whole attempt
// closes the race window between two concurrent callers.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock: already held")

// ReleaseFunc releases a held lock.
type ReleaseFunc func(ctx context.Context) error

// Manager acquires per-key locks.
type Manager interface {
	// Acquire takes the lock for key or returns ErrLocked. The ttl bounds
	// how long a crashed holder can wedge the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// LocalManager is an in-process Manager for single-instance deployments and
// tests.
type LocalManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalManager creates an empty local manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{held: make(map[string]struct{})}
}

// Acquire implements Manager.
func (m *LocalManager) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[key]; taken {
		return nil, ErrLocked
	}
	m.held[key] = struct{}{}

	return func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		return nil
	}, nil
}
