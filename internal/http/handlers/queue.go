package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lumina/internal/queue"
)

func (a *App) GetOptions(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Processor.Options().Get())
}

// PutOptions replaces the global option set. Omitted fields keep their
// current value.
func (a *App) PutOptions(w http.ResponseWriter, r *http.Request) {
	opts := a.Processor.Options().Get()
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Processor.Options().Set(opts); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_options", err.Error())
		return
	}
	a.json(w, http.StatusOK, a.Processor.Options().Get())
}

func (a *App) QueueState(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Processor.Snapshot())
}

type runRequest struct {
	Scope queue.Scope `json:"scope"`
}

// RunQueue arms a run over Idle records, or over the selection when
// scope is "selection".
func (a *App) RunQueue(w http.ResponseWriter, r *http.Request) {
	req := runRequest{Scope: queue.ScopeIdle}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	switch req.Scope {
	case "", queue.ScopeIdle:
		req.Scope = queue.ScopeIdle
	case queue.ScopeSelection:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "scope must be idle or selection")
		return
	}
	queued, err := a.Processor.Arm(r.Context(), req.Scope)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"queued": queued, "queue": a.Processor.Snapshot()})
}
