// Package cache provides the Redis-backed pieces of the guard: a distributed
// cycle lock and a short-lived cache of AI opinions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trade-guard/config"
	"trade-guard/internal/logging"
)

// ErrUnavailable is returned while the service is in degraded mode
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// Key prefixes
const (
	PrefixLock    = "trade-guard:lock:%s"
	PrefixOpinion = "trade-guard:opinion:%s"
)

// CacheService wraps the Redis client with a small health circuit. When Redis
// is unavailable, operations fail fast with ErrUnavailable and callers fall
// back to their primary source.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
	log           *logging.Logger
}

// NewCacheService connects to Redis. A failed initial ping returns the
// service in degraded mode rather than an error.
func NewCacheService(ctx context.Context, cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := newCacheService(client, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		cs.log.Warn("initial redis connection failed, running degraded", "address", cfg.Address, "error", err)
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.log.Info("redis connected", "address", cfg.Address)
	return cs, nil
}

func newCacheService(client *redis.Client, cfg config.RedisConfig) *CacheService {
	return &CacheService{
		client:        client,
		config:        cfg,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
		log:           logging.WithComponent("cache"),
	}
}

// IsHealthy returns whether Redis is currently available
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.log.Warn("redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.log.Info("redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth pings in the background once checkInterval has passed while unhealthy
func (cs *CacheService) checkHealth() {
	cs.mu.Lock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	if shouldCheck {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

func (cs *CacheService) available() error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}
	return nil
}

// GetJSON retrieves and unmarshals a JSON value. A miss returns redis.Nil.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if err := cs.available(); err != nil {
		return err
	}

	data, err := cs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		cs.recordFailure()
		return fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores value with ttl
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cs.available(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes a key from cache
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	if err := cs.available(); err != nil {
		return err
	}

	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Ping checks Redis connectivity
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Close closes the Redis connection
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Stats returns cache statistics for monitoring
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns current cache statistics
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// LockKey generates the key for a guard cycle lock
func LockKey(name string) string {
	return fmt.Sprintf(PrefixLock, name)
}

// OpinionKey generates the key for a cached AI opinion
func OpinionKey(symbol string) string {
	return fmt.Sprintf(PrefixOpinion, symbol)
}
