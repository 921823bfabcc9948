package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by TryAcquire when another holder owns the lock.
var ErrHeld = errors.New("lock held by another process")

const retryInterval = 100 * time.Millisecond

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker hands out Redis-backed mutual exclusion for batch jobs such as indexing and
// recommendation reconciliation.
type Locker struct {
	client *redis.Client
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) key(name string) string { return l.prefix + "lock:" + name }

// TryAcquire takes the lock once, returning ErrHeld when it is taken.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (UnlockFunc, error) {
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}, nil
}

// Acquire polls until the lock is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (UnlockFunc, error) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		unlock, err := l.TryAcquire(ctx, name, ttl)
		if !errors.Is(err, ErrHeld) {
			return unlock, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
