// Package lock provides named exclusive locks used to keep reconciliation
// single-instance.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReconcileKey is the well-known resource guarded during reconciliation
const ReconcileKey = "shesha:entity-config-sync"

var (
	// ErrNotAcquired is returned when the lock stays held until the context ends
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or changed owner
	ErrNotHeld = errors.New("lock not held")
)

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks. Acquire blocks until the lock is obtained or
// ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Nop is a Locker that always succeeds immediately
type Nop struct{}

// Acquire returns a lock whose Release does nothing
func (Nop) Acquire(context.Context, string) (Lock, error) {
	return nopLock{}, nil
}

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }

// releaseScript deletes the key only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis lock configuration
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block others
	TTL time.Duration
	// RetryInterval is the delay between acquisition attempts
	RetryInterval time.Duration
}

// DefaultRedisConfig returns a default Redis lock configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL:           5 * time.Minute,
		RetryInterval: 200 * time.Millisecond,
	}
}

// RedisLocker implements Locker with SET NX PX and a token-checked release
type RedisLocker struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisLocker creates a Redis locker with an existing client
func NewRedisLocker(client *redis.Client, config RedisConfig) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = DefaultRedisConfig().TTL
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRedisConfig().RetryInterval
	}
	return &RedisLocker{client: client, config: config}
}

// Acquire takes the lock, retrying until ctx is done
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLock{client: l.client, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.key)
	}
	return nil
}

// WithTimeout bounds how long Acquire on l may wait. The held lock is not
// affected by the timeout.
func WithTimeout(l Locker, timeout time.Duration) Locker {
	if timeout <= 0 {
		return l
	}
	return &timeoutLocker{Locker: l, timeout: timeout}
}

type timeoutLocker struct {
	Locker
	timeout time.Duration
}

func (l *timeoutLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Locker.Acquire(ctx, key)
}
