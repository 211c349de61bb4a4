// Package querycache caches whole search responses in Redis in front of the
// index engine. Identical concurrent queries are collapsed into one index
// execution via singleflight, and a circuit breaker keeps Redis outages from
// slowing the search path: when the breaker is open every query goes straight
// to the index.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/metrics"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/redis"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/resilience"
)

const keyPrefix = "search:"

// SearchFunc executes a query against the index.
type SearchFunc func(ctx context.Context, query string, limit int) ([]optimizer.SearchResult, error)

// Cache is the Redis-backed search response cache.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a Cache. client may be nil, in which case every call goes
// straight to the search function (used when Redis is not configured).
func New(client *redis.Client, ttl time.Duration, m *metrics.Metrics) *Cache {
	c := &Cache{
		client:  client,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-query-cache", resilience.CircuitBreakerConfig{}),
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker.OnStateChange(func(name string, state resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	})
	return c
}

// Key returns the cache key for a query/limit pair.
func Key(query string, limit int) string {
	sum := sha256.Sum256([]byte(query + "\x00" + strconv.Itoa(limit)))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Search returns the cached response for query, or executes fn and caches
// its result. Concurrent callers with the same key share one execution.
func (c *Cache) Search(ctx context.Context, query string, limit int, fn SearchFunc) ([]optimizer.SearchResult, error) {
	if c.client == nil {
		return fn(ctx, query, limit)
	}
	key := Key(query, limit)

	if results, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		return results, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		results, err := fn(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		c.put(ctx, key, results)
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]optimizer.SearchResult), nil
}

func (c *Cache) get(ctx context.Context, key string) ([]optimizer.SearchResult, bool) {
	var payload string
	err := c.breaker.Execute(func() error {
		var err error
		payload, err = c.client.Get(ctx, key)
		if redis.IsNilError(err) {
			payload = ""
			return nil
		}
		return err
	})
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache read failed", "error", err)
		return nil, false
	}
	if payload == "" {
		return nil, false
	}
	var results []optimizer.SearchResult
	if err := json.Unmarshal([]byte(payload), &results); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return results, true
}

func (c *Cache) put(ctx context.Context, key string, results []optimizer.SearchResult) {
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, string(payload), c.ttl)
	})
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache write failed", "error", err)
	}
}

// Invalidate removes every cached search response. Called after index
// updates so cached pages never outlive the postings they were built from.
func (c *Cache) Invalidate(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.client.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating query cache: %w", err)
	}
	return deleted, nil
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	Errors       int64  `json:"errors"`
	BreakerState string `json:"breaker_state"`
	Enabled      bool   `json:"enabled"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Errors:       c.errors.Load(),
		BreakerState: c.breaker.State().String(),
		Enabled:      c.client != nil,
	}
}
