package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trade-guard/internal/state"
)

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a Redis lock for guard cycles shared across processes. The TTL
// must exceed the longest evaluate-execute-record cycle.
type Locker struct {
	cache *CacheService
	ttl   time.Duration
}

// NewLocker creates a lock on cs
func NewLocker(cs *CacheService) *Locker {
	ttl := cs.config.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{cache: cs, ttl: ttl}
}

var _ state.Locker = (*Locker)(nil)

// Lock polls SET NX PX with backoff until acquired or ctx is done. Unlike the
// cache reads, a degraded Redis is an error here: no lock, no cycle.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	if err := l.cache.available(); err != nil {
		return nil, err
	}

	key := LockKey(name)
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0

	acquire := func() error {
		ok, err := l.cache.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.cache.recordFailure()
			return backoff.Permanent(fmt.Errorf("redis lock %s failed: %w", name, err))
		}
		l.cache.recordSuccess()
		if !ok {
			return fmt.Errorf("lock %s held", name)
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}, nil
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.cache.client, []string{key}, token).Err(); err != nil {
		l.cache.log.Warn("failed to release redis lock, it expires with its ttl", "key", key, "error", err)
	}
}
