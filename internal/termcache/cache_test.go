package termcache

import (
	"fmt"
	"sync"
	"testing"
)

func entryFor(ids ...string) Entry {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Entry{DocIDs: set, Found: true}
}

func TestGetPut(t *testing.T) {
	c := New(10)

	if _, ok := c.Get("absent"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Put("python", entryFor("d1", "d2"))
	got, ok := c.Get("python")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if !got.Found || len(got.DocIDs) != 2 {
		t.Errorf("got %+v, want found entry with 2 docs", got)
	}
}

func TestCachedMiss(t *testing.T) {
	c := New(10)

	c.Put("ghost", Entry{Found: false})
	got, ok := c.Get("ghost")
	if !ok {
		t.Fatal("confirmed miss should be cached")
	}
	if got.Found {
		t.Error("cached miss reported Found=true")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2)

	c.Put("a", entryFor("d1"))
	c.Put("b", entryFor("d2"))
	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Put("c", entryFor("d3"))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should have survived eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestPutUpdatesExisting(t *testing.T) {
	c := New(2)

	c.Put("term", entryFor("d1"))
	c.Put("term", entryFor("d1", "d2", "d3"))
	got, ok := c.Get("term")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got.DocIDs) != 3 {
		t.Errorf("updated entry has %d docs, want 3", len(got.DocIDs))
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 after in-place update", c.Len())
	}
}

func TestInvalidate(t *testing.T) {
	c := New(10)

	c.Put("stale", entryFor("d1"))
	c.Invalidate("stale")
	if _, ok := c.Get("stale"); ok {
		t.Error("invalidated entry still served")
	}
	// Invalidating an absent term is a no-op.
	c.Invalidate("never-cached")
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Put("a", entryFor("d1"))
	c.Put("b", entryFor("d2"))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", c.Len())
	}
}

func TestZeroCapacityDisablesCaching(t *testing.T) {
	c := New(0)
	c.Put("a", entryFor("d1"))
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache should never hit")
	}
}

func TestHitRate(t *testing.T) {
	c := New(10)
	if c.HitRate() != 0 {
		t.Errorf("HitRate on untouched cache = %f, want 0", c.HitRate())
	}
	c.Put("a", entryFor("d1"))
	c.Get("a")      // hit
	c.Get("a")      // hit
	c.Get("absent") // miss
	if c.Hits() != 2 || c.Misses() != 1 {
		t.Fatalf("hits=%d misses=%d, want 2/1", c.Hits(), c.Misses())
	}
	want := 2.0 / 3.0
	if got := c.HitRate(); got != want {
		t.Errorf("HitRate = %f, want %f", got, want)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				term := fmt.Sprintf("term-%d", i%100)
				if i%3 == 0 {
					c.Put(term, entryFor(fmt.Sprintf("d%d", g)))
				} else if i%7 == 0 {
					c.Invalidate(term)
				} else {
					c.Get(term)
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Errorf("Len = %d exceeds capacity 64", c.Len())
	}
}
