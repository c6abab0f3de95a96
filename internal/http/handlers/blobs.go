package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"lumina/internal/domain"
	"lumina/internal/storage"
)

const (
	defaultThumbSize = 320
	maxThumbSize     = 1024
)

func (a *App) OriginalBlob(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.serveBlob(w, r, rec.OriginalKey, rec.Name)
}

func (a *App) EnhancedBlob(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.Registry.Get(chi.URLParam(r, "id"))
	if !ok || rec.EnhancedKey == "" {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.serveBlob(w, r, rec.EnhancedKey, "enhanced_"+rec.Name)
}

func (a *App) VersionBlob(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	vid := chi.URLParam(r, "version_id")
	for _, v := range rec.History {
		if v.ID == vid {
			a.serveBlob(w, r, v.Key, v.ID+"_"+rec.Name)
			return
		}
	}
	a.fail(w, r, domain.ErrNoVersion)
}

// Thumbnail renders a JPEG preview that fits in size x size pixels.
func (a *App) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	key := rec.OriginalKey
	if r.URL.Query().Get("variant") == "enhanced" {
		if rec.EnhancedKey == "" {
			a.fail(w, r, domain.ErrNotFound)
			return
		}
		key = rec.EnhancedKey
	}
	size := defaultThumbSize
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 {
		size = min(v, maxThumbSize)
	}

	data, err := a.Store.Get(r.Context(), key)
	if err != nil {
		a.blobError(w, r, err)
		return
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		a.error(w, http.StatusUnprocessableEntity, "undecodable", "image cannot be decoded")
		return
	}
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *App) serveBlob(w http.ResponseWriter, r *http.Request, key, filename string) {
	data, err := a.Store.Get(r.Context(), key)
	if err != nil {
		a.blobError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) blobError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.fail(w, r, err)
}
