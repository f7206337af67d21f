// Package cache holds exchange rates in a process-local layer backed by an
// optional Redis layer shared between instances.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"afms/internal/core"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when neither layer holds the pair.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "afms:rate:"

type entry struct {
	rate     core.ExchangeRate
	cachedAt time.Time
}

// RateCache checks memory first, then Redis. A nil Redis client leaves the
// cache memory-only.
type RateCache struct {
	redis *redis.Client
	log   *zap.Logger
	ttl   time.Duration
	now   func() time.Time

	mu  sync.RWMutex
	mem map[string]entry
}

var _ core.RateCache = (*RateCache)(nil)

func NewRateCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *RateCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RateCache{
		redis: client,
		log:   log,
		ttl:   ttl,
		now:   time.Now,
		mem:   make(map[string]entry),
	}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return client, nil
}

func cacheKey(base, quote string) string {
	return keyPrefix + base + ":" + quote
}

func (c *RateCache) Get(ctx context.Context, base, quote string) (*core.ExchangeRate, error) {
	key := cacheKey(base, quote)

	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.cachedAt) <= c.ttl {
		rate := e.rate
		return &rate, nil
	}
	if ok {
		c.mu.Lock()
		delete(c.mem, key)
		c.mu.Unlock()
	}

	if c.redis == nil {
		return nil, ErrMiss
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rate from redis: %w", err)
	}
	var rate core.ExchangeRate
	if err := json.Unmarshal(data, &rate); err != nil {
		c.log.Warn("discarding undecodable cached rate", zap.String("key", key), zap.Error(err))
		return nil, ErrMiss
	}
	c.storeMem(key, rate)
	return &rate, nil
}

func (c *RateCache) Set(ctx context.Context, rate core.ExchangeRate) error {
	key := cacheKey(rate.Base, rate.Quote)
	c.storeMem(key, rate)

	if c.redis == nil {
		return nil
	}
	data, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("failed to marshal rate: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rate in redis: %w", err)
	}
	return nil
}

// Invalidate drops every cached pair quoted against base.
func (c *RateCache) Invalidate(ctx context.Context, base string) error {
	prefix := keyPrefix + base + ":"

	c.mu.Lock()
	for key := range c.mem {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.mem, key)
		}
	}
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached rates: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *RateCache) storeMem(key string, rate core.ExchangeRate) {
	c.mu.Lock()
	c.mem[key] = entry{rate: rate, cachedAt: c.now()}
	c.mu.Unlock()
}
