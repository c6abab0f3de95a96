package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"lumina/internal/infra/credentials"
)

func (a *App) CredentialStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.Gate.Status(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, status)
}

type selectKeyRequest struct {
	APIKey string `json:"api_key"`
}

// SelectCredential stores the key the user picked. The key is never echoed.
func (a *App) SelectCredential(w http.ResponseWriter, r *http.Request) {
	var req selectKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Gate.Select(r.Context(), req.APIKey); err != nil {
		if errors.Is(err, credentials.ErrEmptyKey) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.fail(w, r, err)
		return
	}
	a.CredentialStatus(w, r)
}

// ForgetCredential drops the selected key.
func (a *App) ForgetCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Forget(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.CredentialStatus(w, r)
}
