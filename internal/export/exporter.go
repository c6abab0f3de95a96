// Package export packs the active results of completed images into one zip.
package export

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"lumina/internal/domain"
	"lumina/pkg/zip"
)

const (
	DefaultPrefix = "lumina_batch"
	EntryPrefix   = "enhanced_"
	fetchLimit    = 4
)

// BlobReader reads the bytes behind a key.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Archive is a finished export.
type Archive struct {
	Filename string
	Data     []byte
	Entries  []string
}

// Exporter builds archives from completed records.
type Exporter struct {
	store  BlobReader
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewExporter returns an exporter naming archives <prefix>_<epoch-millis>.zip.
func NewExporter(store BlobReader, prefix string, logger zerolog.Logger) *Exporter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Exporter{store: store, prefix: prefix, logger: logger, now: time.Now}
}

// ExportAll archives the active result of every Completed record. Records in
// other states are skipped. Any fetch or compression failure aborts the whole
// export with an ArchiveError.
func (e *Exporter) ExportAll(ctx context.Context, records []domain.ImageRecord) (*Archive, error) {
	var eligible []domain.ImageRecord
	for _, rec := range records {
		if rec.Status == domain.StatusCompleted && rec.EnhancedKey != "" {
			eligible = append(eligible, rec)
		}
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNothingToExport
	}

	payloads := make([][]byte, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, rec := range eligible {
		i, rec := i, rec
		g.Go(func() error {
			data, err := e.store.Get(gctx, rec.EnhancedKey)
			if err != nil {
				return fmt.Errorf("%s: %w", rec.Name, err)
			}
			payloads[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error().Err(err).Int("records", len(eligible)).Msg("export: fetch failed")
		return nil, &domain.ArchiveError{Op: "fetch", Err: err}
	}

	names := newNameSet()
	assets := make([]zip.Asset, len(eligible))
	entries := make([]string, len(eligible))
	for i, rec := range eligible {
		name := names.claim(EntryPrefix + cleanName(rec.Name))
		assets[i] = zip.Asset{Filename: name, MIME: rec.MIME, Data: payloads[i], Modified: rec.EnhancedAt}
		entries[i] = name
	}

	data, err := zip.ArchiveAssets(assets)
	if err != nil {
		e.logger.Error().Err(err).Msg("export: compress failed")
		return nil, &domain.ArchiveError{Op: "compress", Err: err}
	}

	archive := &Archive{
		Filename: fmt.Sprintf("%s_%d.zip", e.prefix, e.now().UnixMilli()),
		Data:     data,
		Entries:  entries,
	}
	e.logger.Info().
		Str("archive", archive.Filename).
		Int("entries", len(entries)).
		Int("bytes", len(data)).
		Msg("export: archive built")
	return archive, nil
}

// cleanName keeps only the base name, NFC-normalised, without control runes.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

type nameSet map[string]struct{}

func newNameSet() nameSet { return make(nameSet) }

// claim returns name, or name with a " (n)" suffix before the extension when
// it is already taken.
func (s nameSet) claim(name string) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		if _, taken := s[candidate]; !taken {
			s[candidate] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
}
