package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired indicates the instance lock could not be obtained within
// the context deadline.
var ErrLockNotAcquired = errors.New("instance lock not acquired")

// Locker serializes read-modify-write cycles per instance. Acquire blocks
// until the key is held or ctx is done; the returned func releases it.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type mutexEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex is the single-process Locker: one refcounted mutex per key, so
// unrelated instances never contend.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*mutexEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*mutexEntry)}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &mutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}, nil
}

const (
	redisLockTTL        = 30 * time.Second
	redisLockRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the lock only if this holder's token still owns it,
// so an expired-and-reacquired lock is never released by the old holder.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker is the multi-replica Locker: SET NX PX with a per-acquisition
// token and a compare-and-delete release.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "approvia:lock:"}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := r.prefix + key
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, redisLockTTL).Result()
		if err != nil {
			return nil, err
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-time.After(redisLockRetryDelay):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		r.client.Eval(releaseCtx, releaseScript, []string{lockKey}, token)
	}, nil
}
