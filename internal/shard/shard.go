// Package shard implements the partitioned durable term store. Each shard
// owns a SQLite postings database and a local Bloom filter layered in front
// of it as a fast-reject optimization; a Router assigns every term to exactly
// one shard by deterministic hash.
package shard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/bloom"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS postings (
	term       TEXT PRIMARY KEY,
	doc_ids    BLOB NOT NULL,
	metadata   BLOB,
	frequency  INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_postings_frequency ON postings(frequency DESC);
`

// Shard is one partition of the inverted index. All mutations go through the
// shard's own lock; operations on one shard never block another shard.
type Shard struct {
	id      int
	path    string
	db      *sql.DB
	filter  *bloom.Filter
	mu      sync.RWMutex
	lookups atomic.Int64
	logger  *slog.Logger
}

// Open opens (or creates) the shard's postings database under dir and warms
// the local Bloom filter from the stored terms.
func Open(dir string, id int, bloomCfg config.BloomConfig) (*Shard, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating shard directory: %w", err)
	}
	path := filepath.Join(dir, FileName(id))
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening shard %d: %v", kierrors.ErrShardUnavailable, id, err)
	}
	// A single connection serialises SQLite access below our own lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing shard %d schema: %v", kierrors.ErrCorruptIndex, id, err)
	}

	s := &Shard{
		id:     id,
		path:   path,
		db:     db,
		filter: bloom.New(bloomCfg.Size, bloomCfg.NumHashes),
		logger: slog.Default().With("component", "index-shard", "shard_id", id),
	}
	if err := s.warmBloom(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// FileName returns the on-disk file name for a shard ID.
func FileName(id int) string {
	return fmt.Sprintf("shard-%d.db", id)
}

// warmBloom replays every stored term into the local Bloom filter so that
// reopening an existing index keeps the fast-reject layer sound.
func (s *Shard) warmBloom() error {
	rows, err := s.db.Query(`SELECT term FROM postings`)
	if err != nil {
		return fmt.Errorf("%w: scanning shard %d terms: %v", kierrors.ErrCorruptIndex, s.id, err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return fmt.Errorf("%w: scanning shard %d term row: %v", kierrors.ErrCorruptIndex, s.id, err)
		}
		s.filter.Add(term)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterating shard %d terms: %v", kierrors.ErrCorruptIndex, s.id, err)
	}
	if count > 0 {
		s.logger.Info("bloom filter warmed from store", "terms", count)
	}
	return nil
}

// ID returns the shard's fixed identifier.
func (s *Shard) ID() int {
	return s.id
}

// AddTerm upserts the posting row for term with replace semantics: the stored
// doc-id set becomes exactly docIDs, it is not unioned with the previous row.
// Callers needing union semantics read the current set first (as the
// incremental updater does).
func (s *Shard) AddTerm(ctx context.Context, term string, docIDs map[string]struct{}, metadata []byte) error {
	blob, err := encodeDocSet(docIDs)
	if err != nil {
		return fmt.Errorf("shard %d: %w", s.id, err)
	}
	var metaBlob []byte
	if len(metadata) > 0 {
		if metaBlob, err = compress(metadata); err != nil {
			return fmt.Errorf("shard %d: %w", s.id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Add(term)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO postings (term, doc_ids, metadata, frequency, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(term) DO UPDATE SET
		   doc_ids = excluded.doc_ids,
		   metadata = excluded.metadata,
		   frequency = excluded.frequency,
		   updated_at = excluded.updated_at`,
		term, blob, metaBlob, len(docIDs), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: shard %d upserting term %q: %v", kierrors.ErrShardUnavailable, s.id, term, err)
	}
	return nil
}

// AddTermsBatch writes many term rows in one transaction. Used by the index
// builder to flush a whole shard's accumulated postings at once.
func (s *Shard) AddTermsBatch(ctx context.Context, postings map[string]map[string]struct{}) error {
	if len(postings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: shard %d beginning batch: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO postings (term, doc_ids, metadata, frequency, updated_at)
		 VALUES (?, ?, NULL, ?, ?)
		 ON CONFLICT(term) DO UPDATE SET
		   doc_ids = excluded.doc_ids,
		   frequency = excluded.frequency,
		   updated_at = excluded.updated_at`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: shard %d preparing batch: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for term, docIDs := range postings {
		blob, err := encodeDocSet(docIDs)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("shard %d: %w", s.id, err)
		}
		if _, err := stmt.ExecContext(ctx, term, blob, len(docIDs), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: shard %d writing term %q: %v", kierrors.ErrShardUnavailable, s.id, term, err)
		}
		s.filter.Add(term)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: shard %d committing batch: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	return nil
}

// GetDocs returns the doc-id set for term, or nil if the term is absent. The
// local Bloom filter short-circuits definite misses before any store lookup;
// a nil result after a store lookup is the Bloom false-positive case.
func (s *Shard) GetDocs(ctx context.Context, term string) (map[string]struct{}, error) {
	if !s.filter.Contains(term) {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.lookups.Add(1)

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc_ids FROM postings WHERE term = ?`, term).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: shard %d reading term %q: %v", kierrors.ErrShardUnavailable, s.id, term, err)
	}
	docIDs, err := decodeDocSet(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: shard %d term %q: %v", kierrors.ErrCorruptIndex, s.id, term, err)
	}
	return docIDs, nil
}

// Optimize compacts the shard's store and refreshes planner statistics. It
// takes the shard's exclusive lock, so concurrent writes wait; other shards
// are unaffected.
func (s *Shard) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("%w: shard %d vacuum: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("%w: shard %d analyze: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	s.logger.Info("shard optimized", "duration", time.Since(start))
	return nil
}

// Reset drops every posting row and replaces the Bloom filter with an empty
// one. Used by full rebuilds so postings from removed documents cannot
// survive into the new index.
func (s *Shard) Reset(ctx context.Context, bloomCfg config.BloomConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM postings`); err != nil {
		return fmt.Errorf("%w: shard %d reset: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	s.filter = bloom.New(bloomCfg.Size, bloomCfg.NumHashes)
	return nil
}

// TermCount returns the number of terms stored in this shard.
func (s *Shard) TermCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: shard %d counting terms: %v", kierrors.ErrShardUnavailable, s.id, err)
	}
	return count, nil
}

// SizeBytes returns the shard file's current on-disk size.
func (s *Shard) SizeBytes() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Lookups returns the number of durable store lookups performed, excluding
// Bloom-filter rejections. Used by index statistics and cache tests.
func (s *Shard) Lookups() int64 {
	return s.lookups.Load()
}

// Close closes the shard's database.
func (s *Shard) Close() error {
	return s.db.Close()
}
