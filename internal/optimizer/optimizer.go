// Package optimizer is the index engine: it builds the sharded inverted
// index from a document corpus, serves IDF-ranked searches through the
// Bloom-filter and term-cache fast paths, and applies incremental document
// updates without a full rebuild.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/bloom"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/metastore"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/shard"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/termcache"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/metrics"
)

// State tracks the index lifecycle.
type State int32

const (
	StateUnbuilt State = iota
	StateBuilding
	StateReady
	StateUpdating
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// SearchResult is one ranked hit.
type SearchResult struct {
	DocID    string  `json:"doc_id"`
	Score    float64 `json:"score"`
	Title    string  `json:"title"`
	FilePath string  `json:"file_path"`
	Size     int64   `json:"size"`
}

// DocumentUpdate carries one document for incremental indexing. Content is
// the full document body; updates are whole-document replacements, not
// diffs.
type DocumentUpdate struct {
	DocID    string `json:"doc_id"`
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// Optimizer owns the full index: shards, global Bloom filter, term cache,
// and metadata store. One Optimizer serves one data directory.
type Optimizer struct {
	cfg     *config.Config
	proc    *docproc.Processor
	store   metastore.Store
	router  *shard.Router
	cache   *termcache.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex // guards state, manifest, and globalBloom swap
	state       State
	manifest    *Manifest
	globalBloom *bloom.Filter

	totalDocs     atomic.Int64
	updateBatches int // single writer, serialised by the state machine
}

// New opens the index in cfg.Index.DataDir. An existing valid manifest
// restores the index to ready; a missing manifest starts unbuilt; a corrupt
// manifest or Bloom filter file is an error.
func New(cfg *config.Config, store metastore.Store, m *metrics.Metrics) (*Optimizer, error) {
	router, err := shard.NewRouter(cfg.Index.DataDir, cfg.Index.NumShards, cfg.Index.ShardBloom)
	if err != nil {
		return nil, err
	}

	o := &Optimizer{
		cfg:         cfg,
		proc:        docproc.New(),
		store:       store,
		router:      router,
		cache:       termcache.New(cfg.Index.TermCacheEntries),
		metrics:     m,
		logger:      slog.Default().With("component", "optimizer"),
		state:       StateUnbuilt,
		globalBloom: bloom.New(cfg.Index.GlobalBloom.Size, cfg.Index.GlobalBloom.NumHashes),
	}

	manifest, err := LoadManifest(cfg.Index.DataDir)
	switch {
	case err == nil:
		filter, err := bloom.Load(filepath.Join(cfg.Index.DataDir, manifest.BloomFile))
		if err != nil {
			router.Close()
			return nil, err
		}
		o.manifest = manifest
		o.globalBloom = filter
		o.state = StateReady
		o.totalDocs.Store(manifest.Stats.TotalDocs)
		m.ActiveShards.Set(float64(manifest.NumShards))
		o.logger.Info("index restored",
			"total_docs", manifest.Stats.TotalDocs,
			"total_terms", manifest.Stats.TotalTerms,
			"num_shards", manifest.NumShards,
			"created_at", manifest.CreatedAt,
		)
	case errors.Is(err, kierrors.ErrIndexNotBuilt):
		o.logger.Info("no index found, starting unbuilt", "data_dir", cfg.Index.DataDir)
	default:
		router.Close()
		return nil, err
	}
	return o, nil
}

// State returns the current lifecycle state.
func (o *Optimizer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TotalDocs returns the number of indexed documents.
func (o *Optimizer) TotalDocs() int64 {
	return o.totalDocs.Load()
}

// Build indexes every supported document under corpusDir. When the index is
// already built and force is false, Build returns the existing stats without
// touching the corpus, so re-running the indexer is idempotent. A forced
// build clears the shards and metadata store first.
func (o *Optimizer) Build(ctx context.Context, corpusDir string, force bool) (*BuildStats, error) {
	o.mu.Lock()
	switch o.state {
	case StateBuilding, StateUpdating:
		o.mu.Unlock()
		return nil, kierrors.ErrBuildInProgress
	case StateReady:
		if !force {
			stats := o.manifest.Stats
			o.mu.Unlock()
			o.logger.Info("index already built, skipping", "total_docs", stats.TotalDocs)
			return &stats, nil
		}
	}
	hadManifest := o.manifest != nil
	o.state = StateBuilding
	o.mu.Unlock()

	stats, err := o.build(ctx, corpusDir)

	o.mu.Lock()
	if err == nil || hadManifest {
		o.state = StateReady
	} else {
		o.state = StateUnbuilt
	}
	o.mu.Unlock()
	return stats, err
}

func (o *Optimizer) build(ctx context.Context, corpusDir string) (*BuildStats, error) {
	start := time.Now()
	files, err := o.collectFiles(corpusDir)
	if err != nil {
		return nil, err
	}
	o.logger.Info("build started",
		"corpus_dir", corpusDir,
		"files", len(files),
		"workers", o.cfg.Index.BuildWorkers,
		"num_shards", o.router.NumShards(),
	)

	if err := o.router.ResetAll(ctx, o.cfg.Index.ShardBloom); err != nil {
		return nil, err
	}
	if err := o.store.Reset(ctx); err != nil {
		return nil, err
	}
	o.cache.Clear()

	newBloom := bloom.New(o.cfg.Index.GlobalBloom.Size, o.cfg.Index.GlobalBloom.NumHashes)
	numShards := o.router.NumShards()
	perShard := make([]map[string]map[string]struct{}, numShards)
	for i := range perShard {
		perShard[i] = make(map[string]map[string]struct{})
	}
	var metas []docproc.Metadata
	var skipped atomic.Int64

	// Workers parse and tokenize in parallel; a single accumulator owns the
	// per-shard posting maps so no map needs its own lock.
	results := make(chan *docproc.Result, o.cfg.Index.BuildWorkers)
	accDone := make(chan struct{})
	go func() {
		defer close(accDone)
		for res := range results {
			for term := range res.Terms {
				newBloom.Add(term)
				sid := shard.Index(term, numShards)
				set, ok := perShard[sid][term]
				if !ok {
					set = make(map[string]struct{})
					perShard[sid][term] = set
				}
				set[res.DocID] = struct{}{}
			}
			metas = append(metas, res.Meta)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Index.BuildWorkers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			res, err := o.proc.ProcessFile(corpusDir, path)
			if err != nil {
				if errors.Is(err, kierrors.ErrDocumentRead) {
					skipped.Add(1)
					o.metrics.DocsSkippedTotal.Inc()
					o.logger.Warn("skipping unreadable document", "path", path, "error", err)
					return nil
				}
				return err
			}
			select {
			case results <- res:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err = g.Wait()
	close(results)
	<-accDone
	if err != nil {
		return nil, fmt.Errorf("processing corpus: %w", err)
	}

	var totalTerms int64
	for sid, postings := range perShard {
		s, err := o.router.Shard(sid)
		if err != nil {
			return nil, err
		}
		if err := s.AddTermsBatch(ctx, postings); err != nil {
			return nil, err
		}
		totalTerms += int64(len(postings))
		o.metrics.ShardTermCount.WithLabelValues(strconv.Itoa(sid)).Set(float64(len(postings)))
	}
	if err := o.store.PutBatch(ctx, metas); err != nil {
		return nil, err
	}
	if err := newBloom.Save(filepath.Join(o.cfg.Index.DataDir, GlobalBloomFileName)); err != nil {
		return nil, err
	}
	if err := o.optimizeShards(ctx); err != nil {
		return nil, err
	}

	stats := BuildStats{
		TotalDocs:    int64(len(metas)),
		SkippedDocs:  skipped.Load(),
		TotalTerms:   totalTerms,
		BuildSeconds: time.Since(start).Seconds(),
	}
	manifest, err := o.newManifest(ctx, stats)
	if err != nil {
		return nil, err
	}
	// The manifest is written last: its presence marks the build complete.
	if err := manifest.Save(o.cfg.Index.DataDir); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.manifest = manifest
	o.globalBloom = newBloom
	o.mu.Unlock()
	o.totalDocs.Store(stats.TotalDocs)

	o.metrics.DocsIndexedTotal.Add(float64(stats.TotalDocs))
	o.metrics.BuildDuration.Observe(stats.BuildSeconds)
	o.metrics.ActiveShards.Set(float64(numShards))
	o.logger.Info("build complete",
		"total_docs", stats.TotalDocs,
		"skipped_docs", stats.SkippedDocs,
		"total_terms", stats.TotalTerms,
		"duration", time.Since(start),
	)
	return &stats, nil
}

// collectFiles walks corpusDir and returns every file whose extension is in
// the supported set.
func (o *Optimizer) collectFiles(corpusDir string) ([]string, error) {
	supported := make(map[string]struct{}, len(o.cfg.Index.SupportedExtensions))
	for _, ext := range o.cfg.Index.SupportedExtensions {
		supported[ext] = struct{}{}
	}
	var files []string
	err := filepath.WalkDir(corpusDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := supported[filepath.Ext(path)]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus %s: %w", corpusDir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (o *Optimizer) newManifest(ctx context.Context, stats BuildStats) (*Manifest, error) {
	now := time.Now().UTC()
	m := &Manifest{
		Version:   manifestVersion,
		CreatedAt: now,
		UpdatedAt: now,
		NumShards: o.router.NumShards(),
		BloomFile: GlobalBloomFileName,
		Stats:     stats,
	}
	for _, s := range o.router.All() {
		terms, err := s.TermCount(ctx)
		if err != nil {
			return nil, err
		}
		m.Shards = append(m.Shards, ShardInfo{
			ID:        s.ID(),
			File:      shard.FileName(s.ID()),
			Terms:     terms,
			SizeBytes: s.SizeBytes(),
		})
	}
	return m, nil
}

func (o *Optimizer) optimizeShards(ctx context.Context) error {
	if err := o.router.OptimizeAll(ctx); err != nil {
		o.metrics.OptimizeRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	o.metrics.OptimizeRunsTotal.WithLabelValues("success").Inc()
	return nil
}

// Search tokenizes query with the same rules as indexing and returns up to
// limit results ranked by summed IDF score (ties broken by doc ID). A query
// that tokenizes to nothing returns an empty list. The global Bloom filter
// rejects absent terms before any shard or cache work; per-term results are
// cached in the LRU.
func (o *Optimizer) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	o.mu.Lock()
	state := o.state
	filter := o.globalBloom
	o.mu.Unlock()
	if state == StateUnbuilt || state == StateBuilding {
		o.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return nil, kierrors.ErrIndexNotBuilt
	}

	terms := o.proc.QueryTerms(query)
	if len(terms) == 0 {
		// Stop-word-only or empty queries yield nothing to look up; that is
		// an empty result, not an error.
		o.metrics.SearchQueriesTotal.WithLabelValues("empty_query").Inc()
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = o.cfg.Search.DefaultLimit
	}
	if limit > o.cfg.Search.MaxResults {
		limit = o.cfg.Search.MaxResults
	}

	start := time.Now()
	totalDocs := o.totalDocs.Load()
	scores := make(map[string]float64)
	cacheStatus := "hit"
	for _, term := range terms {
		if !filter.Contains(term) {
			o.metrics.BloomRejectionsTotal.WithLabelValues("global").Inc()
			continue
		}
		var docs map[string]struct{}
		if entry, ok := o.cache.Get(term); ok {
			o.metrics.TermCacheHitsTotal.Inc()
			if !entry.Found {
				continue
			}
			docs = entry.DocIDs
		} else {
			o.metrics.TermCacheMissesTotal.Inc()
			cacheStatus = "miss"
			s := o.router.ShardFor(term)
			o.metrics.ShardLookupsTotal.WithLabelValues(strconv.Itoa(s.ID())).Inc()
			got, err := s.GetDocs(ctx, term)
			if err != nil {
				o.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
				return nil, err
			}
			o.cache.Put(term, termcache.Entry{DocIDs: got, Found: got != nil})
			if got == nil {
				continue
			}
			docs = got
		}

		df := len(docs)
		if df == 0 || totalDocs == 0 {
			continue
		}
		idf := math.Log(float64(totalDocs) / float64(df))
		for docID := range docs {
			scores[docID] += idf
		}
	}

	ranked := make([]string, 0, len(scores))
	for docID := range scores {
		ranked = append(ranked, docID)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, docID := range ranked {
		meta, err := o.store.Get(ctx, docID)
		if errors.Is(err, kierrors.ErrMetadataNotFound) {
			// Postings can briefly outlive metadata during updates; such
			// docs drop out of the page rather than failing the query.
			o.logger.Warn("indexed document missing metadata", "doc_id", docID)
			continue
		}
		if err != nil {
			o.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		results = append(results, SearchResult{
			DocID:    docID,
			Score:    scores[docID],
			Title:    meta.Title,
			FilePath: meta.FilePath,
			Size:     meta.Size,
		})
	}

	resultType := "hit"
	if len(results) == 0 {
		resultType = "zero_result"
	}
	o.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	o.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	o.metrics.SearchResultsCount.Observe(float64(len(results)))
	return results, nil
}

// Update applies a batch of document updates to a built index without a
// rebuild. Posting rows are read, unioned with the new doc ID, and written
// back; every touched term is invalidated in the term cache before the next
// search can observe it.
func (o *Optimizer) Update(ctx context.Context, updates []DocumentUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	o.mu.Lock()
	switch o.state {
	case StateUnbuilt:
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot update before first build", kierrors.ErrIndexNotBuilt)
	case StateBuilding, StateUpdating:
		o.mu.Unlock()
		return kierrors.ErrBuildInProgress
	}
	o.state = StateUpdating
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.state = StateReady
		o.mu.Unlock()
	}()

	start := time.Now()
	metas := make([]docproc.Metadata, 0, len(updates))
	var newDocs int64
	for _, upd := range updates {
		if upd.DocID == "" {
			return fmt.Errorf("%w: update with empty doc_id", kierrors.ErrInvalidQuery)
		}
		res := o.proc.Process(upd.DocID, upd.FilePath, []byte(upd.Content))

		_, err := o.store.Get(ctx, upd.DocID)
		switch {
		case errors.Is(err, kierrors.ErrMetadataNotFound):
			newDocs++
		case err != nil:
			return err
		}

		for term := range res.Terms {
			s := o.router.ShardFor(term)
			current, err := s.GetDocs(ctx, term)
			if err != nil {
				return err
			}
			if _, posted := current[upd.DocID]; posted {
				continue
			}
			if current == nil {
				current = make(map[string]struct{}, 1)
			}
			current[upd.DocID] = struct{}{}
			if err := s.AddTerm(ctx, term, current, nil); err != nil {
				return err
			}
			o.globalBloom.Add(term)
			o.cache.Invalidate(term)
		}
		metas = append(metas, res.Meta)
	}
	if err := o.store.PutBatch(ctx, metas); err != nil {
		return err
	}
	o.totalDocs.Add(newDocs)
	o.metrics.DocsIndexedTotal.Add(float64(len(updates)))

	if err := o.globalBloom.Save(filepath.Join(o.cfg.Index.DataDir, GlobalBloomFileName)); err != nil {
		return err
	}
	totalTerms, err := o.router.TotalTerms(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if o.manifest != nil {
		o.manifest.UpdatedAt = time.Now().UTC()
		o.manifest.Stats.TotalDocs = o.totalDocs.Load()
		o.manifest.Stats.TotalTerms = totalTerms
		if err := o.manifest.Save(o.cfg.Index.DataDir); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()

	o.updateBatches++
	if n := o.cfg.Index.OptimizeEveryNUpdates; n > 0 && o.updateBatches%n == 0 {
		if err := o.optimizeShards(ctx); err != nil {
			return err
		}
	}
	o.logger.Info("incremental update applied",
		"docs", len(updates),
		"new_docs", newDocs,
		"duration", time.Since(start),
	)
	return nil
}

// ShardReport is per-shard statistics for Report.
type ShardReport struct {
	ID        int   `json:"id"`
	Terms     int64 `json:"terms"`
	SizeBytes int64 `json:"size_bytes"`
	Lookups   int64 `json:"lookups"`
}

// CacheReport summarises term-cache effectiveness.
type CacheReport struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Report is a point-in-time snapshot of the index.
type Report struct {
	State          string        `json:"state"`
	TotalDocs      int64         `json:"total_docs"`
	TotalTerms     int64         `json:"total_terms"`
	IndexSizeBytes int64         `json:"index_size_bytes"`
	NumShards      int           `json:"num_shards"`
	Shards         []ShardReport `json:"shards"`
	TermCache      CacheReport   `json:"term_cache"`
	CreatedAt      *time.Time    `json:"created_at,omitempty"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
}

// Report returns current index statistics.
func (o *Optimizer) Report(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	state := o.state
	manifest := o.manifest
	o.mu.Unlock()

	rep := &Report{
		State:          state.String(),
		TotalDocs:      o.totalDocs.Load(),
		NumShards:      o.router.NumShards(),
		IndexSizeBytes: o.router.SizeBytes(),
		TermCache: CacheReport{
			Entries: o.cache.Len(),
			Hits:    o.cache.Hits(),
			Misses:  o.cache.Misses(),
			HitRate: o.cache.HitRate(),
		},
	}
	for _, s := range o.router.All() {
		terms, err := s.TermCount(ctx)
		if err != nil {
			return nil, err
		}
		rep.TotalTerms += terms
		rep.Shards = append(rep.Shards, ShardReport{
			ID:        s.ID(),
			Terms:     terms,
			SizeBytes: s.SizeBytes(),
			Lookups:   s.Lookups(),
		})
	}
	if manifest != nil {
		created, updated := manifest.CreatedAt, manifest.UpdatedAt
		rep.CreatedAt = &created
		rep.UpdatedAt = &updated
	}
	return rep, nil
}

// ClearTermCache drops all cached term lookups.
func (o *Optimizer) ClearTermCache() {
	o.cache.Clear()
}

// TotalLookups exposes the summed shard lookup counters.
func (o *Optimizer) TotalLookups() int64 {
	return o.router.TotalLookups()
}

// Close closes all shards. The metadata store is owned by the caller.
func (o *Optimizer) Close() error {
	return o.router.Close()
}
