// Package metastore persists document metadata keyed by doc ID. The default
// backend is a SQLite file next to the shards; a PostgreSQL backend is
// available for deployments where several services share one metadata store.
package metastore

import (
	"context"
	"fmt"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
)

// Store is the metadata persistence interface shared by all backends.
type Store interface {
	// Put inserts or replaces the metadata row for meta.DocID.
	Put(ctx context.Context, meta docproc.Metadata) error
	// PutBatch writes many rows in one transaction.
	PutBatch(ctx context.Context, metas []docproc.Metadata) error
	// Get returns the metadata for docID, or ErrMetadataNotFound.
	Get(ctx context.Context, docID string) (docproc.Metadata, error)
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int64, error)
	// Reset drops every row. Used by full rebuilds.
	Reset(ctx context.Context) error
	Close() error
}

// Open returns the backend selected by cfg.Index.MetadataBackend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Index.MetadataBackend {
	case "postgres":
		return OpenPostgres(cfg.Postgres)
	case "", "sqlite":
		return OpenSQLite(cfg.Index.DataDir)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Index.MetadataBackend)
	}
}
