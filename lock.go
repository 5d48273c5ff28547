package entitygraph

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock coordinates Delete (when passed to WithDistributedLock)
// and simple's Collection.Atomic across multiple processes sharing one
// database file, using Redis as the lock broker. Within one process,
// Db's striped locks already serialise Delete per key.
type DistributedLock struct {
	redis      *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// NewDistributedLock creates a lock manager scoped under keyPrefix, so
// multiple entitygraph databases can share one Redis instance without
// colliding.
func NewDistributedLock(client *redis.Client, keyPrefix string) *DistributedLock {
	return &DistributedLock{
		redis:      client,
		keyPrefix:  keyPrefix,
		defaultTTL: 30 * time.Second,
	}
}

// Lock acquires the lock for key, returning a release function that
// must be called to release it. Acquisition fails with ErrLockHeld if
// another process already holds it.
func (l *DistributedLock) Lock(ctx context.Context, key string) (func(), error) {
	return l.lockWithTTL(ctx, key, l.defaultTTL)
}

func (l *DistributedLock) lockWithTTL(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl == 0 {
		ttl = l.defaultTTL
	}
	lockKey := fmt.Sprintf("%s:lock:%s", l.keyPrefix, key)
	lockValue := fmt.Sprintf("%d", Now().UnixNano())

	success, err := l.redis.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{"key": key, "error": err.Error()})
	}
	if !success {
		return nil, WithContext(ErrLockHeld, map[string]interface{}{"key": key, "ttl": ttl})
	}

	release := func() {
		cleanupCtx := context.Background()
		script := `
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			else
				return 0
			end
		`
		_, _ = l.redis.Eval(cleanupCtx, script, []string{lockKey}, lockValue).Result()
	}
	return release, nil
}

// LockWithRetry acquires the lock for key, retrying with exponential
// backoff and jitter (per DefaultRetryConfig) while it is held by
// another process.
func (l *DistributedLock) LockWithRetry(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	config := DefaultRetryConfig()

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		release, err := l.lockWithTTL(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt < config.MaxRetries-1 {
			backoff := config.InitialBackoff * time.Duration(int64(1)<<uint(attempt))
			jitter := time.Duration(rand.Float64() * float64(backoff) * config.JitterPercent)
			time.Sleep(backoff + jitter)
		}
	}
	return nil, fmt.Errorf("failed to acquire lock on %s after %d attempts: %w", key, config.MaxRetries, lastErr)
}

// Close releases the underlying Redis client.
func (l *DistributedLock) Close() error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Close()
}
