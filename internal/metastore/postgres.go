package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/postgres"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id     TEXT PRIMARY KEY,
	file_path  TEXT NOT NULL,
	title      TEXT NOT NULL,
	size       BIGINT NOT NULL,
	checksum   TEXT NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore keeps metadata in a shared PostgreSQL database, letting the
// searcher and updater services read what the indexer wrote without sharing
// a filesystem.
type PostgresStore struct {
	client *postgres.Client
}

// OpenPostgres connects to PostgreSQL and ensures the documents table exists.
func OpenPostgres(cfg config.PostgresConfig) (*PostgresStore, error) {
	client, err := postgres.New(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := client.DB.Exec(postgresSchema); err != nil {
		client.Close()
		return nil, fmt.Errorf("initializing metadata schema: %w", err)
	}
	return &PostgresStore{client: client}, nil
}

func (s *PostgresStore) Put(ctx context.Context, meta docproc.Metadata) error {
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO documents (doc_id, file_path, title, size, checksum, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (doc_id) DO UPDATE SET
		   file_path = EXCLUDED.file_path,
		   title = EXCLUDED.title,
		   size = EXCLUDED.size,
		   checksum = EXCLUDED.checksum,
		   indexed_at = EXCLUDED.indexed_at`,
		meta.DocID, meta.FilePath, meta.Title, meta.Size, meta.Checksum, meta.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("writing metadata for %q: %w", meta.DocID, err)
	}
	return nil
}

func (s *PostgresStore) PutBatch(ctx context.Context, metas []docproc.Metadata) error {
	if len(metas) == 0 {
		return nil
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO documents (doc_id, file_path, title, size, checksum, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (doc_id) DO UPDATE SET
			   file_path = EXCLUDED.file_path,
			   title = EXCLUDED.title,
			   size = EXCLUDED.size,
			   checksum = EXCLUDED.checksum,
			   indexed_at = EXCLUDED.indexed_at`,
		)
		if err != nil {
			return fmt.Errorf("preparing metadata batch: %w", err)
		}
		defer stmt.Close()
		for _, meta := range metas {
			if _, err := stmt.ExecContext(ctx,
				meta.DocID, meta.FilePath, meta.Title, meta.Size, meta.Checksum, meta.IndexedAt,
			); err != nil {
				return fmt.Errorf("writing metadata for %q: %w", meta.DocID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, docID string) (docproc.Metadata, error) {
	var meta docproc.Metadata
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT doc_id, file_path, title, size, checksum, indexed_at
		 FROM documents WHERE doc_id = $1`, docID,
	).Scan(&meta.DocID, &meta.FilePath, &meta.Title, &meta.Size, &meta.Checksum, &meta.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return docproc.Metadata{}, fmt.Errorf("%w: %s", kierrors.ErrMetadataNotFound, docID)
	}
	if err != nil {
		return docproc.Metadata{}, fmt.Errorf("reading metadata for %q: %w", docID, err)
	}
	return meta, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.client.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, `TRUNCATE documents`); err != nil {
		return fmt.Errorf("resetting metadata store: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.client.Close()
}
