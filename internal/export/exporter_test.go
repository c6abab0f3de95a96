package export

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/storage"
)

type failingStore struct {
	failKey string
	inner   BlobReader
}

func (f failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == f.failKey {
		return nil, errors.New("disk unplugged")
	}
	return f.inner.Get(ctx, key)
}

func putBlob(t *testing.T, store *storage.MemoryStore, key, data string) string {
	t.Helper()
	k, err := store.Put(context.Background(), key, []byte(data))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return k
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := stdzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(body)
	}
	return out
}

func TestExportOnlyCompletedRecords(t *testing.T) {
	store := storage.NewMemoryStore()
	records := []domain.ImageRecord{
		{ID: "1", Name: "beach.jpg", Status: domain.StatusCompleted, EnhancedKey: putBlob(t, store, "enhanced/1/a.jpg", "one")},
		{ID: "2", Name: "city.png", Status: domain.StatusCompleted, EnhancedKey: putBlob(t, store, "enhanced/2/b.png", "two")},
		{ID: "3", Name: "broken.png", Status: domain.StatusFailed, Error: "boom"},
	}
	exp := NewExporter(store, "", zerolog.Nop())
	exp.now = func() time.Time { return time.UnixMilli(1700000000123) }

	archive, err := exp.ExportAll(context.Background(), records)
	if err != nil {
		t.Fatalf("ExportAll error: %v", err)
	}
	if archive.Filename != "lumina_batch_1700000000123.zip" {
		t.Fatalf("filename = %q", archive.Filename)
	}
	entries := readZip(t, archive.Data)
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want 2", entries)
	}
	if entries["enhanced_beach.jpg"] != "one" || entries["enhanced_city.png"] != "two" {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestExportDeduplicatesNames(t *testing.T) {
	store := storage.NewMemoryStore()
	records := []domain.ImageRecord{
		{ID: "1", Name: "photo.jpg", Status: domain.StatusCompleted, EnhancedKey: putBlob(t, store, "e/1", "a")},
		{ID: "2", Name: "dir/photo.jpg", Status: domain.StatusCompleted, EnhancedKey: putBlob(t, store, "e/2", "b")},
	}
	archive, err := NewExporter(store, "batch", zerolog.Nop()).ExportAll(context.Background(), records)
	if err != nil {
		t.Fatalf("ExportAll error: %v", err)
	}
	names := append([]string(nil), archive.Entries...)
	sort.Strings(names)
	want := []string{"enhanced_photo (2).jpg", "enhanced_photo.jpg"}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("entries = %v, want %v", names, want)
	}
}

func TestExportNormalisesNames(t *testing.T) {
	decomposed := "cafe\u0301.jpg"
	if got := cleanName(decomposed); got != "caf\u00e9.jpg" {
		t.Fatalf("cleanName = %q", got)
	}
	if got := cleanName(`C:\photos\a.png`); got != "a.png" {
		t.Fatalf("cleanName windows path = %q", got)
	}
	if got := cleanName(""); got != "image" {
		t.Fatalf("cleanName empty = %q", got)
	}
}

func TestExportFailsWholeBatch(t *testing.T) {
	store := storage.NewMemoryStore()
	records := []domain.ImageRecord{
		{ID: "1", Name: "a.jpg", Status: domain.StatusCompleted, EnhancedKey: putBlob(t, store, "e/1", "a")},
		{ID: "2", Name: "b.jpg", Status: domain.StatusCompleted, EnhancedKey: "e/2"},
	}
	exp := NewExporter(failingStore{failKey: "e/2", inner: store}, "", zerolog.Nop())
	archive, err := exp.ExportAll(context.Background(), records)
	if archive != nil {
		t.Fatal("no partial archive expected")
	}
	var archErr *domain.ArchiveError
	if !errors.As(err, &archErr) || archErr.Op != "fetch" {
		t.Fatalf("error = %v, want fetch ArchiveError", err)
	}
}

func TestExportNothingCompleted(t *testing.T) {
	exp := NewExporter(storage.NewMemoryStore(), "", zerolog.Nop())
	_, err := exp.ExportAll(context.Background(), []domain.ImageRecord{{ID: "1", Status: domain.StatusIdle}})
	if !errors.Is(err, domain.ErrNothingToExport) {
		t.Fatalf("error = %v, want ErrNothingToExport", err)
	}
}
