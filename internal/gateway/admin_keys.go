package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleKeysCollection implements GET/POST /api/keys (spec.md §6: "create
// returns the raw key exactly once; subsequent reads mask it").
func (g *Gateway) handleKeysCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, g.apiKeys.List())

	case http.MethodPost:
		var req struct {
			Name               string   `json:"name"`
			AllowedCredentials []string `json:"allowed_credentials"`
			AllowedModels      []string `json:"allowed_models"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}
		key, err := g.apiKeys.Create(req.Name, req.AllowedCredentials, req.AllowedModels)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, key) // unmasked: the one-time reveal

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}

// handleKeysItem implements GET/PUT/DELETE /api/keys/:id.
func (g *Gateway) handleKeysItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/keys/")
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "invalid_request_error", "missing key id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		key, ok := g.apiKeys.Get(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "invalid_request_error", "key not found")
			return
		}
		writeJSON(w, http.StatusOK, key)

	case http.MethodPut:
		var req struct {
			Name               *string  `json:"name"`
			Enabled            *bool    `json:"enabled"`
			AllowedCredentials []string `json:"allowed_credentials"`
			AllowedModels      []string `json:"allowed_models"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}
		key, ok := g.apiKeys.Update(id, req.Name, req.Enabled, req.AllowedCredentials, req.AllowedModels)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "invalid_request_error", "key not found")
			return
		}
		writeJSON(w, http.StatusOK, key)

	case http.MethodDelete:
		g.apiKeys.Delete(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}
