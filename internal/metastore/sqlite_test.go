package metastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/docproc"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

func testMeta(docID string) docproc.Metadata {
	return docproc.Metadata{
		DocID:     docID,
		FilePath:  "/corpus/" + docID,
		Title:     "Test Document",
		Size:      1024,
		Checksum:  "deadbeef",
		IndexedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := testMeta("docs/guide.md")
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "docs/guide.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != want.Title || got.Checksum != want.Checksum || got.Size != want.Size {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
	if !got.IndexedAt.Equal(want.IndexedAt) {
		t.Errorf("IndexedAt = %v, want %v", got.IndexedAt, want.IndexedAt)
	}
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "no-such-doc")
	if !errors.Is(err, kierrors.ErrMetadataNotFound) {
		t.Errorf("Get missing doc: err = %v, want ErrMetadataNotFound", err)
	}
}

func TestPutReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	meta := testMeta("readme.md")
	if err := store.Put(ctx, meta); err != nil {
		t.Fatal(err)
	}
	meta.Title = "Updated Title"
	meta.Checksum = "cafebabe"
	if err := store.Put(ctx, meta); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "readme.md")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Updated Title" || got.Checksum != "cafebabe" {
		t.Errorf("replace lost update: %+v", got)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1 after replace", count)
	}
}

func TestPutBatchAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	metas := []docproc.Metadata{
		testMeta("a.md"), testMeta("b.md"), testMeta("c.md"),
	}
	if err := store.PutBatch(ctx, metas); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
	if _, err := store.Get(ctx, "b.md"); err != nil {
		t.Errorf("Get after batch: %v", err)
	}
}

func TestPutBatchEmpty(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutBatch(context.Background(), nil); err != nil {
		t.Errorf("empty PutBatch: %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenSQLite(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, testMeta("persist.md")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLite(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "persist.md"); err != nil {
		t.Errorf("row lost across reopen: %v", err)
	}
}
