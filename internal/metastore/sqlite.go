package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id     TEXT PRIMARY KEY,
	file_path  TEXT NOT NULL,
	title      TEXT NOT NULL,
	size       INTEGER NOT NULL,
	checksum   TEXT NOT NULL,
	indexed_at TEXT NOT NULL
);
`

// MetadataFileName is the SQLite metadata database file inside the index
// data directory.
const MetadataFileName = "metadata.db"

// SQLiteStore keeps metadata in a single SQLite file in the index data
// directory, alongside the shard files.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the metadata database under dataDir.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, MetadataFileName)
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing metadata schema: %v", kierrors.ErrCorruptIndex, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, meta docproc.Metadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, file_path, title, size, checksum, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		   file_path = excluded.file_path,
		   title = excluded.title,
		   size = excluded.size,
		   checksum = excluded.checksum,
		   indexed_at = excluded.indexed_at`,
		meta.DocID, meta.FilePath, meta.Title, meta.Size, meta.Checksum,
		meta.IndexedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing metadata for %q: %w", meta.DocID, err)
	}
	return nil
}

func (s *SQLiteStore) PutBatch(ctx context.Context, metas []docproc.Metadata) error {
	if len(metas) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning metadata batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (doc_id, file_path, title, size, checksum, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		   file_path = excluded.file_path,
		   title = excluded.title,
		   size = excluded.size,
		   checksum = excluded.checksum,
		   indexed_at = excluded.indexed_at`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing metadata batch: %w", err)
	}
	defer stmt.Close()

	for _, meta := range metas {
		_, err := stmt.ExecContext(ctx,
			meta.DocID, meta.FilePath, meta.Title, meta.Size, meta.Checksum,
			meta.IndexedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("writing metadata for %q: %w", meta.DocID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, docID string) (docproc.Metadata, error) {
	var meta docproc.Metadata
	var indexedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, file_path, title, size, checksum, indexed_at
		 FROM documents WHERE doc_id = ?`, docID,
	).Scan(&meta.DocID, &meta.FilePath, &meta.Title, &meta.Size, &meta.Checksum, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return docproc.Metadata{}, fmt.Errorf("%w: %s", kierrors.ErrMetadataNotFound, docID)
	}
	if err != nil {
		return docproc.Metadata{}, fmt.Errorf("reading metadata for %q: %w", docID, err)
	}
	if meta.IndexedAt, err = time.Parse(time.RFC3339Nano, indexedAt); err != nil {
		return docproc.Metadata{}, fmt.Errorf("%w: bad indexed_at for %q: %v", kierrors.ErrCorruptIndex, docID, err)
	}
	return meta, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("resetting metadata store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
