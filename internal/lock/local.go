package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type localEntry struct {
	token   string
	expires time.Time
}

// LocalLocker is the process-local Locker used when REDIS_URL is unset.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

func NewLocal() *LocalLocker {
	return &LocalLocker{held: map[string]localEntry{}, now: time.Now}
}

// WithClock replaces the time source used for expiry.
func (l *LocalLocker) WithClock(now func() time.Time) *LocalLocker {
	l.now = now
	return l
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrNotAcquired
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLock{owner: l, key: key, token: token}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
	token string
}

func (k *localLock) Release(ctx context.Context) error {
	l := k.owner
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.held[k.key]
	if !ok || e.token != k.token || !l.now().Before(e.expires) {
		return ErrNotHeld
	}
	delete(l.held, k.key)
	return nil
}
