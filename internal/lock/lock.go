// Package lock provides short-lived mutual exclusion keyed by name: a Redis
// implementation for multi-instance deployments and an in-process one for
// single-binary runs and tests.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrNotHeld     = errors.New("lock not held")
)

// Lock is held until Release or until its TTL lapses, whichever is first.
type Lock interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// Acquire returns ErrNotAcquired when another holder has key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
