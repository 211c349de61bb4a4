package metastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

// Requires a running PostgreSQL instance; set KI_TEST_POSTGRES_HOST to run.
func openPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	host := os.Getenv("KI_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("KI_TEST_POSTGRES_HOST not set; skipping postgres integration test")
	}
	store, err := OpenPostgres(config.PostgresConfig{
		Host:            host,
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "knowledge_index_test",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() {
		store.client.DB.Exec(`DELETE FROM documents WHERE doc_id LIKE 'it-%'`)
		store.Close()
	})
	return store
}

func TestPostgresPutGetRoundTrip(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()

	docID := fmt.Sprintf("it-%d.md", time.Now().UnixNano())
	want := testMeta(docID)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, docID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != want.Title || got.Checksum != want.Checksum {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	store := openPostgresStore(t)

	_, err := store.Get(context.Background(), "it-no-such-doc")
	if !errors.Is(err, kierrors.ErrMetadataNotFound) {
		t.Errorf("err = %v, want ErrMetadataNotFound", err)
	}
}

func TestPostgresPutBatch(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()

	prefix := fmt.Sprintf("it-batch-%d", time.Now().UnixNano())
	metas := []docproc.Metadata{
		testMeta(prefix + "-a.md"),
		testMeta(prefix + "-b.md"),
	}
	if err := store.PutBatch(ctx, metas); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	for _, meta := range metas {
		if _, err := store.Get(ctx, meta.DocID); err != nil {
			t.Errorf("Get %q after batch: %v", meta.DocID, err)
		}
	}
}
