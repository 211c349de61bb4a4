// Package termcache provides the in-process LRU cache of term lookup results
// that sits between the search path and the shards. Both hits and confirmed
// misses are cached; a cached miss saves a shard round trip on repeated
// queries for absent terms.
package termcache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Entry is a cached term lookup result. A nil DocIDs with Found=false records
// a confirmed miss.
type Entry struct {
	DocIDs map[string]struct{}
	Found  bool
}

// Cache is a fixed-capacity LRU over term lookup results. Safe for
// concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheItem struct {
	term  string
	entry Entry
}

// New returns a cache holding at most capacity entries. A capacity of zero or
// less disables caching: every Get misses and Put is a no-op.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached entry for term, promoting it to most recently used.
func (c *Cache) Get(term string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[term]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*cacheItem).entry, true
}

// Put stores a lookup result for term, evicting the least recently used entry
// when the cache is full.
func (c *Cache) Put(term string, entry Entry) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[term]; ok {
		elem.Value.(*cacheItem).entry = entry
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheItem).term)
		}
	}
	c.items[term] = c.order.PushFront(&cacheItem{term: term, entry: entry})
}

// Invalidate drops the cached entry for term, if present. The incremental
// updater calls this for every term it rewrites so stale sets are never
// served.
func (c *Cache) Invalidate(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[term]; ok {
		c.order.Remove(elem)
		delete(c.items, term)
	}
}

// Clear drops every cached entry. Counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Hits returns the lifetime hit count.
func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

// Misses returns the lifetime miss count.
func (c *Cache) Misses() int64 {
	return c.misses.Load()
}

// HitRate returns hits / (hits + misses), or 0 when the cache has never been
// queried.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
