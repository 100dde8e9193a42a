package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker using in-memory locks.
// Locks are not shared across processes or restarts.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	now   func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker with a background
// goroutine that drops expired entries. Call Close to stop it.
func NewMemoryLocker() *MemoryLocker {
	ml := &MemoryLocker{
		locks:    make(map[string]*lockEntry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go ml.cleanupLoop(30 * time.Second)
	return ml
}

func (m *MemoryLocker) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopChan:
			return
		}
	}
}

func (m *MemoryLocker) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.locks {
		if now.After(entry.expiresAt) {
			delete(m.locks, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (m *MemoryLocker) Close() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	return nil
}

// live returns the unexpired entry for key. Caller holds m.mu.
func (m *MemoryLocker) live(key string) (*lockEntry, bool) {
	entry, exists := m.locks[key]
	if !exists {
		return nil, false
	}
	if m.now().After(entry.expiresAt) {
		delete(m.locks, key)
		return nil, false
	}
	return entry, true
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.live(key); held {
		return false, nil
	}

	m.locks[key] = &lockEntry{
		expiresAt: m.now().Add(ttl),
		token:     uuid.NewString(),
	}
	return true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return retry(ctx, maxRetries, retryDelay, func() (bool, error) {
		return m.Acquire(ctx, key, ttl)
	})
}

// Release releases a lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.live(key); held {
		delete(m.locks, key)
		return true, nil
	}
	return false, nil
}

// Extend extends the TTL of a held lock.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.live(key)
	if !held {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, held := m.live(key)
	return held, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
