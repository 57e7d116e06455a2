// Package cache implements the cache-aside layer over Redis. The record
// store stays authoritative; entries here are disposable projections.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"order-lifecycle/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL    = 60 * time.Minute
	scanBatchSize = 100
)

type Cache struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *logrus.Logger
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func New(rdb redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.New()
		c.log.SetOutput(io.Discard)
	}
	return c
}

// GetOrSet returns the value cached under key, or invokes producer on a miss
// and stores its JSON encoding for ttl (ttl <= 0 uses the cache default).
// Producer errors are returned and never cached. Redis errors are returned
// rather than bypassing the cache, so an outage is never mistaken for a miss.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.metrics.CacheHit(key)
			return v, nil
		}
		c.log.WithField("key", key).Warn("cache: undecodable entry, repopulating")
	case !errors.Is(err, redis.Nil):
		return zero, fmt.Errorf("cache get %s: %w", key, err)
	}
	c.metrics.CacheMiss(key)

	// Concurrent misses in this process share one producer call; callers in
	// other processes may still race, and the last SET wins. The shared call
	// is detached from any one caller's cancellation; each caller stops
	// waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := producer(shared)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache encode %s: %w", key, err)
		}
		if err := c.rdb.Set(shared, key, b, c.ttlOr(ttl)).Err(); err != nil {
			return nil, fmt.Errorf("cache set %s: %w", key, err)
		}
		return b, nil
	})

	var data any
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		data = res.Val
	}

	var v T
	if err := json.Unmarshal(data.([]byte), &v); err != nil {
		return zero, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return v, nil
}

// Remove evicts keys unconditionally.
func (c *Cache) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache remove %v: %w", keys, err)
	}
	return nil
}

// RemovePrefix evicts every key starting with prefix.
func (c *Cache) RemovePrefix(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatchSize).Iterator()
	batch := make([]string, 0, scanBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatchSize {
			if err := c.Remove(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", prefix, err)
	}
	return c.Remove(ctx, batch...)
}

func (c *Cache) ttlOr(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.ttl
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
