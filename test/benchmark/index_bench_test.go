// Package benchmark contains Go benchmarks for the index engine: term
// extraction, Bloom filter probes, shard I/O, and end-to-end build and
// search, measuring throughput and allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/bloom"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/metastore"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/shard"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/metrics"
)

const sampleText = "The knowledge index optimizer builds a sharded inverted index " +
	"with bloom filter prefiltering, compressed posting lists, and an LRU term " +
	"cache for low latency substring search across documentation corpora."

// BenchmarkExtractTerms measures tokenization plus n-gram expansion cost.
func BenchmarkExtractTerms(b *testing.B) {
	proc := docproc.New()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		terms := proc.ExtractTerms(sampleText)
		_ = terms
	}
}

// BenchmarkBloomAdd measures filter insert throughput.
func BenchmarkBloomAdd(b *testing.B) {
	f := bloom.New(1_000_000, 3)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Add(fmt.Sprintf("term-%d", i))
	}
}

// BenchmarkBloomContains measures probe latency over a populated filter.
func BenchmarkBloomContains(b *testing.B) {
	f := bloom.New(1_000_000, 3)
	for i := 0; i < 100_000; i++ {
		f.Add(fmt.Sprintf("term-%d", i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = f.Contains(fmt.Sprintf("term-%d", i%200_000))
	}
}

// BenchmarkShardAddTerm measures single-term upsert throughput into one
// shard's durable store.
func BenchmarkShardAddTerm(b *testing.B) {
	s, err := shard.Open(b.TempDir(), 0, config.BloomConfig{Size: 1_000_000, NumHashes: 3})
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	docs := map[string]struct{}{"doc-1": {}, "doc-2": {}, "doc-3": {}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.AddTerm(ctx, fmt.Sprintf("term-%d", i), docs, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkShardGetDocs measures posting lookup latency including
// decompression.
func BenchmarkShardGetDocs(b *testing.B) {
	s, err := shard.Open(b.TempDir(), 0, config.BloomConfig{Size: 1_000_000, NumHashes: 3})
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	postings := make(map[string]map[string]struct{}, 10_000)
	for i := 0; i < 10_000; i++ {
		postings[fmt.Sprintf("term-%d", i)] = map[string]struct{}{
			fmt.Sprintf("doc-%d", i): {}, fmt.Sprintf("doc-%d", i+1): {},
		}
	}
	if err := s.AddTermsBatch(ctx, postings); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		docs, err := s.GetDocs(ctx, fmt.Sprintf("term-%d", i%10_000))
		if err != nil {
			b.Fatal(err)
		}
		_ = docs
	}
}

func benchOptimizer(b *testing.B, numDocs int) (*optimizer.Optimizer, string) {
	b.Helper()
	cfg := &config.Config{
		Index: config.IndexConfig{
			DataDir:             filepath.Join(b.TempDir(), "index"),
			NumShards:           4,
			BuildWorkers:        4,
			GlobalBloom:         config.BloomConfig{Size: 1_000_000, NumHashes: 5},
			ShardBloom:          config.BloomConfig{Size: 500_000, NumHashes: 3},
			TermCacheEntries:    1000,
			SupportedExtensions: []string{".txt"},
			MetadataBackend:     "sqlite",
		},
		Search: config.SearchConfig{MaxResults: 100, DefaultLimit: 10},
	}
	corpus := b.TempDir()
	for i := 0; i < numDocs; i++ {
		content := fmt.Sprintf("document %d covering indexing search ranking shard bloom cache topic%d", i, i%50)
		path := filepath.Join(corpus, fmt.Sprintf("doc-%04d.txt", i))
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			b.Fatal(err)
		}
	}
	store, err := metastore.OpenSQLite(cfg.Index.DataDir)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { store.Close() })
	o, err := optimizer.New(cfg, store, metrics.New(nil))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { o.Close() })
	return o, corpus
}

// BenchmarkBuild measures full corpus build time at various corpus sizes.
func BenchmarkBuild(b *testing.B) {
	for _, numDocs := range []int{100, 500} {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			o, corpus := benchOptimizer(b, numDocs)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := o.Build(ctx, corpus, true); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSearch measures end-to-end query latency over a built index,
// including the warmed term cache path.
func BenchmarkSearch(b *testing.B) {
	o, corpus := benchOptimizer(b, 500)
	ctx := context.Background()
	if _, err := o.Build(ctx, corpus, false); err != nil {
		b.Fatal(err)
	}
	queries := []string{"indexing", "search ranking", "bloom cache", "topic7"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		results, err := o.Search(ctx, queries[i%len(queries)], 10)
		if err != nil {
			b.Fatal(err)
		}
		_ = results
	}
}

// BenchmarkSearchParallel measures concurrent query throughput.
func BenchmarkSearchParallel(b *testing.B) {
	o, corpus := benchOptimizer(b, 500)
	ctx := context.Background()
	if _, err := o.Build(ctx, corpus, false); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			results, err := o.Search(ctx, "indexing search", 10)
			if err != nil {
				b.Fatal(err)
			}
			_ = results
		}
	})
}
