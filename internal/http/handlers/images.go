package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lumina/internal/domain"
	"lumina/internal/events"
	"lumina/internal/middleware"
	"lumina/internal/storage"
)

type rejectedUpload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type removedPayload struct {
	ID string `json:"id"`
}

// ListImages returns every record in insertion order with the queue snapshot.
func (a *App) ListImages(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"items": a.Registry.List()}
	if a.Processor != nil {
		body["queue"] = a.Processor.Snapshot()
	}
	a.json(w, http.StatusOK, body)
}

// UploadImages accepts multipart "files". Non-image parts are reported back
// and never reach the registry.
func (a *App) UploadImages(w http.ResponseWriter, r *http.Request) {
	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	reader, err := r.MultipartReader()
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart form required")
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	var (
		uploads  []domain.Upload
		rejected []rejectedUpload
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "malformed multipart body")
			a.releaseUploads(r, uploads)
			return
		}
		if part.FormName() != "files" || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		up, reason, err := a.storeUpload(r, part, limit)
		_ = part.Close()
		if err != nil {
			a.releaseUploads(r, uploads)
			a.fail(w, r, err)
			return
		}
		if reason != "" {
			rejected = append(rejected, rejectedUpload{Name: part.FileName(), Reason: reason})
			continue
		}
		uploads = append(uploads, up)
	}

	if len(uploads) == 0 {
		msg := "no image files in request"
		if len(rejected) > 0 {
			msg = notice(locale, noticeUnsupportedFile)
		}
		a.json(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    errorBody{Code: "no_images", Message: msg},
			"rejected": rejected,
		})
		return
	}

	added := a.Registry.Add(uploads)
	for _, rec := range added {
		a.publish(events.KindRecordUpdated, rec)
	}
	a.Logger.Info().Int("added", len(added)).Int("rejected", len(rejected)).Msg("http: images added")
	a.json(w, http.StatusCreated, map[string]any{"items": added, "rejected": rejected})
}

func (a *App) storeUpload(r *http.Request, part *multipart.Part, limit int64) (domain.Upload, string, error) {
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return domain.Upload{}, "", err
	}
	if int64(len(data)) > limit {
		return domain.Upload{}, "file too large", nil
	}
	if len(data) == 0 {
		return domain.Upload{}, "empty file", nil
	}
	mime := mimetype.Detect(data).String()
	if storage.ExtensionForMIME(mime) == "" {
		return domain.Upload{}, "unsupported type " + mime, nil
	}
	name := path.Base(strings.ReplaceAll(part.FileName(), "\\", "/"))
	key, err := a.Store.Put(r.Context(), storage.OriginalKey(uuid.NewString(), name), data)
	if err != nil {
		return domain.Upload{}, "", err
	}
	return domain.Upload{Name: name, MIME: mime, OriginalKey: key}, "", nil
}

func (a *App) releaseUploads(r *http.Request, uploads []domain.Upload) {
	for _, up := range uploads {
		if err := a.Store.Release(r.Context(), up.OriginalKey); err != nil {
			a.Logger.Warn().Err(err).Str("key", up.OriginalKey).Msg("http: release upload")
		}
	}
}

// ClearImages removes every record and its blobs.
func (a *App) ClearImages(w http.ResponseWriter, r *http.Request) {
	n := a.Registry.Clear(r.Context())
	a.publish(events.KindRegistryCleared, map[string]int{"removed": n})
	a.json(w, http.StatusOK, map[string]int{"removed": n})
}

func (a *App) GetImage(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.json(w, http.StatusOK, rec)
}

func (a *App) RemoveImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.Registry.Remove(r.Context(), id) {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.publish(events.KindRecordRemoved, removedPayload{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

type selectRequest struct {
	Selected bool `json:"selected"`
}

func (a *App) SetSelected(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Registry.SetSelected(id, req.Selected); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, _ := a.Registry.Get(id)
	a.publish(events.KindRecordUpdated, rec)
	a.json(w, http.StatusOK, rec)
}

func (a *App) ClearSelection(w http.ResponseWriter, r *http.Request) {
	a.Registry.ClearAllSelected()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) RetryImage(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Registry.Retry(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.publish(events.KindRecordUpdated, rec)
	a.json(w, http.StatusOK, rec)
}

type revertRequest struct {
	VersionID string `json:"version_id"`
}

func (a *App) RevertImage(w http.ResponseWriter, r *http.Request) {
	var req revertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.VersionID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "version_id required")
		return
	}
	rec, err := a.Registry.Revert(chi.URLParam(r, "id"), req.VersionID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.publish(events.KindRecordUpdated, rec)
	a.json(w, http.StatusOK, rec)
}
