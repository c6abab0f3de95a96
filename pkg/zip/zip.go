package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// WriteAssets writes every asset as a deflated entry. Any failure aborts the
// archive; w may then hold a truncated stream.
func WriteAssets(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		header := &zip.FileHeader{
			Name:     asset.Filename,
			Method:   zip.Deflate,
			Modified: asset.Modified,
		}
		if header.Modified.IsZero() {
			header.Modified = time.Now()
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", asset.Filename, err)
		}
		if _, err := entry.Write(asset.Data); err != nil {
			return fmt.Errorf("write entry %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// ArchiveAssets returns the zip bytes for assets.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := WriteAssets(buf, assets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
