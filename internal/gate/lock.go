package gate

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock serializes deployment runs on a host. Acquire is non-blocking;
// callers queue and retry rather than dropping work.
type RunLock interface {
	TryAcquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// MemoryLock is the single-process lock.
type MemoryLock struct {
	mu    sync.Mutex
	token string
}

func NewMemoryLock() *MemoryLock { return &MemoryLock{} }

func (l *MemoryLock) TryAcquire(ctx context.Context, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return false, nil
	}
	l.token = token
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == token {
		l.token = ""
	}
	return nil
}

// RedisLock is a SetNX lock with a TTL safety net, for hosts where more than
// one orchestrator process might race (e.g. during orchestrator upgrades).
type RedisLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "greenlight:run_lock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context, token string) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
}

// releaseScript deletes the lock only when it still holds our token, so an
// expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLock) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
}
