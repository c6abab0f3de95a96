package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if a.Processor != nil {
		body["queue"] = a.Processor.State()
	}
	a.json(w, http.StatusOK, body)
}
