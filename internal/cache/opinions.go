package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"trade-guard/internal/signals"
)

// OpinionCache fronts an opinion source with Redis so that several cycles in
// the same window share one engine call. Any cache failure falls through to
// the source.
type OpinionCache struct {
	cache  *CacheService
	source signals.OpinionSource
	ttl    time.Duration
}

// NewOpinionCache wraps source. ttl should stay below the engine's
// maximum opinion age or cached records go stale before they expire.
func NewOpinionCache(cs *CacheService, source signals.OpinionSource, ttl time.Duration) *OpinionCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &OpinionCache{cache: cs, source: source, ttl: ttl}
}

var _ signals.OpinionSource = (*OpinionCache)(nil)

func (c *OpinionCache) Opinion(ctx context.Context, symbol string) (*signals.Opinion, error) {
	key := OpinionKey(symbol)

	var cached signals.Opinion
	err := c.cache.GetJSON(ctx, key, &cached)
	switch {
	case err == nil:
		return &cached, nil
	case errors.Is(err, redis.Nil), errors.Is(err, ErrUnavailable):
	default:
		c.cache.log.Debug("opinion cache read failed", "symbol", symbol, "error", err)
	}

	op, err := c.source.Opinion(ctx, symbol)
	if err != nil || op == nil {
		return op, err
	}
	if err := c.cache.SetJSON(ctx, key, op, c.ttl); err != nil && !errors.Is(err, ErrUnavailable) {
		c.cache.log.Debug("opinion cache write failed", "symbol", symbol, "error", err)
	}
	return op, nil
}
