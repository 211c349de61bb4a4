package querycache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/metrics"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/redis"
)

func TestKeyDeterministic(t *testing.T) {
	if Key("hello", 10) != Key("hello", 10) {
		t.Error("same query produced different keys")
	}
	if Key("hello", 10) == Key("hello", 20) {
		t.Error("different limits share a key")
	}
	if Key("hello", 10) == Key("world", 10) {
		t.Error("different queries share a key")
	}
}

func TestNilClientPassesThrough(t *testing.T) {
	c := New(nil, time.Minute, metrics.New(nil))
	var calls atomic.Int64

	fn := func(ctx context.Context, query string, limit int) ([]optimizer.SearchResult, error) {
		calls.Add(1)
		return []optimizer.SearchResult{{DocID: "d1", Score: 1}}, nil
	}
	for i := 0; i < 3; i++ {
		results, err := c.Search(context.Background(), "hello", 10, fn)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].DocID != "d1" {
			t.Fatalf("results = %v", results)
		}
	}
	// No Redis means no caching: every call reaches the index.
	if calls.Load() != 3 {
		t.Errorf("search calls = %d, want 3", calls.Load())
	}
	if c.Stats().Enabled {
		t.Error("Stats.Enabled = true without a client")
	}
}

// Requires a running Redis; set KI_TEST_REDIS_ADDR to run.
func newRedisCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("KI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KI_TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client, err := redis.NewClient(config.RedisConfig{Addr: addr, PoolSize: 5})
	if err != nil {
		t.Fatalf("redis.NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	c := New(client, time.Minute, metrics.New(nil))
	t.Cleanup(func() { c.Invalidate(context.Background()) })
	return c
}

func TestRedisCachesResponses(t *testing.T) {
	c := newRedisCache(t)
	ctx := context.Background()
	var calls atomic.Int64

	fn := func(ctx context.Context, query string, limit int) ([]optimizer.SearchResult, error) {
		calls.Add(1)
		return []optimizer.SearchResult{{DocID: "d1", Score: 2.5, Title: "T"}}, nil
	}
	first, err := c.Search(ctx, "cached query", 10, fn)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Search(ctx, "cached query", 10, fn)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("index executions = %d, want 1", calls.Load())
	}
	if len(second) != len(first) || second[0].DocID != first[0].DocID || second[0].Score != first[0].Score {
		t.Errorf("cached response %v differs from original %v", second, first)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestRedisInvalidate(t *testing.T) {
	c := newRedisCache(t)
	ctx := context.Background()
	var calls atomic.Int64

	fn := func(ctx context.Context, query string, limit int) ([]optimizer.SearchResult, error) {
		calls.Add(1)
		return nil, nil
	}
	if _, err := c.Search(ctx, "invalidate me", 10, fn); err != nil {
		t.Fatal(err)
	}
	deleted, err := c.Invalidate(ctx)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if deleted == 0 {
		t.Error("Invalidate deleted nothing")
	}
	if _, err := c.Search(ctx, "invalidate me", 10, fn); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("index executions = %d after invalidation, want 2", calls.Load())
	}
}

func TestConcurrentIdenticalQueriesCollapse(t *testing.T) {
	c := newRedisCache(t)
	ctx := context.Background()
	var calls atomic.Int64
	release := make(chan struct{})

	fn := func(ctx context.Context, query string, limit int) ([]optimizer.SearchResult, error) {
		calls.Add(1)
		<-release
		return []optimizer.SearchResult{{DocID: "d1"}}, nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Search(ctx, "dogpile", 10, fn); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("index executions = %d for 8 identical queries, want 1", calls.Load())
	}
}
