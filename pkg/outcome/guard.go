package outcome

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyRunning is returned when a resolver run overlaps another one
var ErrAlreadyRunning = errors.New("outcome resolution already running")

// Guard prevents overlapping resolver runs
type Guard interface {
	// TryAcquire returns a release func when the guard was free, or ok=false when it is held
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalGuard guards runs within one process
type LocalGuard struct {
	running atomic.Bool
}

// TryAcquire takes the guard if no run is active
func (g *LocalGuard) TryAcquire(context.Context) (func(), bool, error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	return func() { g.running.Store(false) }, true, nil
}

// releaseScript deletes the lock only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard guards runs across processes with a SETNX lock. The TTL bounds how long a
// crashed holder can block later runs.
type RedisGuard struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisGuard creates a redis-backed guard
func NewRedisGuard(client redis.UniversalClient, key string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisGuard{client: client, key: key, ttl: ttl}
}

// TryAcquire sets the lock key if it does not exist
func (g *RedisGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", g.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.client, []string{g.key}, token).Err()
	}
	return release, true, nil
}
