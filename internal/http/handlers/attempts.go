package handlers

import (
	"net/http"
	"strconv"
	"time"

	"lumina/internal/domain"
)

type attemptResponse struct {
	ID         string         `json:"id"`
	ImageID    string         `json:"image_id"`
	ImageName  string         `json:"image_name"`
	Options    domain.Options `json:"options"`
	Model      string         `json:"model"`
	Outcome    string         `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (a *App) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	if a.Attempts == nil {
		a.json(w, http.StatusOK, map[string]any{"items": []attemptResponse{}})
		return
	}
	list, err := a.Attempts.ListRecent(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]attemptResponse, 0, len(list))
	for _, at := range list {
		items = append(items, attemptResponse{
			ID:         at.ID,
			ImageID:    at.ImageID,
			ImageName:  at.ImageName,
			Options:    at.Options,
			Model:      at.Model,
			Outcome:    string(at.Outcome),
			Error:      at.Error,
			DurationMS: at.Duration.Milliseconds(),
			CreatedAt:  at.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
