// Package lock ensures a single pipeline run at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another run owns the lock.
var ErrHeld = errors.New("run already in progress")

// Release gives the lock back.
type Release func(ctx context.Context) error

// Locker acquires the run lock without waiting.
type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// DefaultKey and DefaultTTL apply when the Redis lock is built with zero values.
const (
	DefaultKey = "bios-notifier:run-lock"
	DefaultTTL = 2 * time.Hour
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease lock shared by every process pointed at the same server.
type Redis struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedis builds a Redis lock. The lease expires after ttl so a crashed run cannot wedge the pipeline.
func NewRedis(rdb *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, key: key, ttl: ttl}
}

// Acquire takes the lease or returns ErrHeld.
func (r *Redis) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.rdb, []string{r.key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

// NewLocal builds a Local lock.
func NewLocal() *Local {
	return &Local{}
}

// Acquire takes the mutex or returns ErrHeld.
func (l *Local) Acquire(_ context.Context) (Release, error) {
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
