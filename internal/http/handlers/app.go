package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/events"
	"lumina/internal/export"
	"lumina/internal/infra/credentials"
	"lumina/internal/middleware"
	"lumina/internal/queue"
	"lumina/internal/registry"
	"lumina/internal/storage"
)

// App carries the collaborators every handler needs.
type App struct {
	Registry  *registry.Registry
	Store     storage.BlobStore
	Processor *queue.Processor
	Exporter  *export.Exporter
	Gate      *credentials.Gate
	Attempts  domain.AttemptRepository
	Events    events.Publisher
	Logger    zerolog.Logger

	// MaxUploadBytes caps a single uploaded file.
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 25 << 20

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func (a *App) publish(kind events.Kind, data any) {
	if a.Events != nil {
		a.Events.Publish(kind, data)
	}
}

// fail maps domain errors onto the JSON error envelope.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	var archiveErr *domain.ArchiveError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNoVersion):
		a.error(w, http.StatusNotFound, "version_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		a.error(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrNothingToRun):
		a.error(w, http.StatusConflict, "nothing_to_run", err.Error())
	case errors.Is(err, domain.ErrNothingToExport):
		a.error(w, http.StatusConflict, "nothing_to_export", err.Error())
	case errors.Is(err, domain.ErrCredentialNeeded):
		a.error(w, http.StatusPreconditionRequired, "credential_required", notice(locale, noticeCredentialRequired))
	case errors.As(err, &archiveErr):
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("http: export failed")
		a.error(w, http.StatusInternalServerError, "export_failed", notice(locale, noticeExportFailed))
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", notice(locale, noticeInternal))
	}
}
