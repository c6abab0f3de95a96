package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveAssetsPreservesOrderAndTimes(t *testing.T) {
	modified := time.Date(2024, 3, 9, 12, 30, 0, 0, time.UTC)
	data, err := ArchiveAssets([]Asset{
		{Filename: "enhanced_a.png", Data: []byte("aaa"), Modified: modified},
		{Filename: "enhanced_b.jpg", Data: []byte("bbbb")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "enhanced_a.png" || zr.File[1].Name != "enhanced_b.jpg" {
		t.Fatalf("entries = %v", zr.File)
	}
	if zr.File[0].Method != zip.Deflate {
		t.Fatalf("method = %d", zr.File[0].Method)
	}
	if !zr.File[0].Modified.Equal(modified) {
		t.Fatalf("modified = %v", zr.File[0].Modified)
	}
	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "bbbb" {
		t.Fatalf("body = %q", body)
	}
}

func TestArchiveAssetsEmpty(t *testing.T) {
	data, err := ArchiveAssets(nil)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil || len(zr.File) != 0 {
		t.Fatalf("empty archive = %v, %v", zr, err)
	}
}
