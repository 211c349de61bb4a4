package shard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
)

// Index returns the shard responsible for term: a deterministic, seed-free
// hash reduced mod numShards. It is stable across process restarts, so
// reopening an index resolves terms to the shards that wrote them.
func Index(term string, numShards int) int {
	return int(xxhash.Sum64String(term) % uint64(numShards))
}

// Router owns all shard instances and maps terms to them.
type Router struct {
	shards    []*Shard
	numShards int
	logger    *slog.Logger
}

// NewRouter opens numShards shards under dir.
func NewRouter(dir string, numShards int, bloomCfg config.BloomConfig) (*Router, error) {
	if numShards <= 0 {
		return nil, fmt.Errorf("invalid shard count %d", numShards)
	}
	r := &Router{
		shards:    make([]*Shard, 0, numShards),
		numShards: numShards,
		logger:    slog.Default().With("component", "shard-router"),
	}
	for i := 0; i < numShards; i++ {
		s, err := Open(dir, i, bloomCfg)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("opening shard %d: %w", i, err)
		}
		r.shards = append(r.shards, s)
	}
	r.logger.Info("shard router ready", "num_shards", numShards, "dir", dir)
	return r, nil
}

// ShardFor returns the shard that owns term.
func (r *Router) ShardFor(term string) *Shard {
	return r.shards[Index(term, r.numShards)]
}

// Shard returns the shard with the given ID.
func (r *Router) Shard(id int) (*Shard, error) {
	if id < 0 || id >= r.numShards {
		return nil, fmt.Errorf("unknown shard ID %d (valid range: 0-%d)", id, r.numShards-1)
	}
	return r.shards[id], nil
}

// All returns every shard.
func (r *Router) All() []*Shard {
	return r.shards
}

// NumShards returns the number of shards managed by this router.
func (r *Router) NumShards() int {
	return r.numShards
}

// ResetAll clears every shard in preparation for a full rebuild.
func (r *Router) ResetAll(ctx context.Context, bloomCfg config.BloomConfig) error {
	for _, s := range r.shards {
		if err := s.Reset(ctx, bloomCfg); err != nil {
			return err
		}
	}
	return nil
}

// OptimizeAll compacts every shard, one task per shard. A failure on one
// shard is logged and does not block optimization of the others; the first
// error is returned after all shards have been attempted.
func (r *Router) OptimizeAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	errs := make([]error, len(r.shards))
	for i, s := range r.shards {
		i, s := i, s
		g.Go(func() error {
			if err := s.Optimize(ctx); err != nil {
				r.logger.Error("shard optimization failed", "shard_id", s.ID(), "error", err)
				errs[i] = err
			}
			return nil
		})
	}
	g.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// TotalTerms sums the term counts of all shards.
func (r *Router) TotalTerms(ctx context.Context) (int64, error) {
	var total int64
	for _, s := range r.shards {
		count, err := s.TermCount(ctx)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// TotalLookups sums the durable store lookup counters of all shards.
func (r *Router) TotalLookups() int64 {
	var total int64
	for _, s := range r.shards {
		total += s.Lookups()
	}
	return total
}

// SizeBytes sums the on-disk sizes of all shard files.
func (r *Router) SizeBytes() int64 {
	var total int64
	for _, s := range r.shards {
		total += s.SizeBytes()
	}
	return total
}

// Close closes every shard, collecting the first error encountered.
func (r *Router) Close() error {
	return r.closeAll()
}

func (r *Router) closeAll() error {
	var firstErr error
	for _, s := range r.shards {
		if err := s.Close(); err != nil {
			r.logger.Error("shard close failed", "shard_id", s.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
