// Package lock provides distributed and local locking abstractions.
// Single-node deployments use memory locks; processes sharing one snapshot
// through a network store coordinate with Redis locks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired indicates a lock could not be obtained within the retry budget.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker defines the interface for distributed/local locking.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another owner.
	// The lock expires automatically after ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry retries Acquire up to maxRetries times, waiting retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock held by this locker.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Options configures WithLock.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions returns the options used for directory mutations.
func DefaultOptions() Options {
	return Options{
		TTL:        10 * time.Second,
		MaxRetries: 50,
		RetryDelay: 20 * time.Millisecond,
	}
}

// WithLock runs fn while holding key. It returns ErrNotAcquired when the
// lock stays busy for the whole retry budget.
func WithLock(ctx context.Context, locker Locker, key string, opts Options, fn func() error) error {
	acquired, err := locker.AcquireWithRetry(ctx, key, opts.TTL, opts.MaxRetries, opts.RetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	defer func() {
		// Release with a fresh context so a canceled request still frees the lock.
		_, _ = locker.Release(context.WithoutCancel(ctx), key)
	}()

	return fn()
}

// retry is the AcquireWithRetry loop shared by the lockers.
func retry(ctx context.Context, maxRetries int, retryDelay time.Duration, acquire func() (bool, error)) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := acquire()
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		// Don't sleep on the last attempt.
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return false, nil
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// Directory returns the lock key guarding writes to the snapshot stored under storeKey.
func (lockKeys) Directory(storeKey string) string {
	return "lock:directory:" + storeKey
}

// ActivitySweep returns the lock key for the periodic activity sweep.
func (lockKeys) ActivitySweep() string {
	return "lock:monitor:activity"
}
