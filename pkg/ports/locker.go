package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a previously acquired lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes turn processing per conversation across
// processes. A single-process deployment can run without one; the session
// manager then falls back to in-process locking only.
type DistributedLocker interface {
	// Lock acquires the lock for key, blocking until acquired or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
