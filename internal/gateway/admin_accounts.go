package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/credential"
	"github.com/vendorgate/gateway/internal/utils"
)

// accountView is the admin-facing rendering of a credential: access/refresh
// tokens are masked, matching the API-key endpoints' "mask on read" rule
// (spec.md §6 applies the same display discipline to secrets generally).
type accountView struct {
	ID             string    `json:"id"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	Region         string    `json:"region"`
	ProfileID      string    `json:"profile_id"`
	Tier           string    `json:"tier"`
	Expiry         time.Time `json:"expiry"`
	Requests       int64     `json:"requests"`
	Errors         int64     `json:"errors"`
	ConsecutiveErr int       `json:"consecutive_errors"`
	HealthScore    int       `json:"health_score"`
	Inflight       int       `json:"inflight"`
	Available      bool      `json:"available"`
	QuotaExhausted bool      `json:"quota_exhausted"`
	Disabled       bool      `json:"disabled"`
}

func renderAccount(c credential.Credential) accountView {
	return accountView{
		ID:             c.ID,
		AccessToken:    utils.MaskKey(c.AccessToken),
		RefreshToken:   utils.MaskKey(c.RefreshToken),
		Region:         c.Region,
		ProfileID:      c.ProfileID,
		Tier:           c.Tier,
		Expiry:         c.Expiry,
		Requests:       c.Requests,
		Errors:         c.Errors,
		ConsecutiveErr: c.ConsecutiveErr,
		HealthScore:    c.HealthScore,
		Inflight:       c.Inflight,
		Available:      c.Available,
		QuotaExhausted: c.QuotaExhausted,
		Disabled:       c.Disabled,
	}
}

// handleAccountsCollection implements GET/POST /api/accounts.
func (g *Gateway) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		diags := g.pool.Diagnostics()
		views := make([]accountView, 0, len(diags))
		for _, c := range diags {
			views = append(views, renderAccount(c))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var req struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			Region       string `json:"region"`
			ProfileID    string `json:"profile_id"`
			Tier         string `json:"tier"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}
		c := &credential.Credential{
			ID:           uuid.NewString(),
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			Region:       req.Region,
			ProfileID:    req.ProfileID,
			Tier:         req.Tier,
			Available:    true,
			HealthScore:  100,
		}
		g.pool.Add(c)
		writeJSON(w, http.StatusCreated, renderAccount(*c))

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}

// handleAccountsItem implements /api/accounts/:id(/refresh|/verify|/usage).
func (g *Gateway) handleAccountsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "invalid_request_error", "missing account id")
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "refresh":
		g.handleAccountRefresh(w, r, id)
		return
	case "verify":
		g.handleAccountVerify(w, r, id)
		return
	case "usage":
		g.handleAccountUsage(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, ok := g.pool.Get(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "invalid_request_error", "account not found")
			return
		}
		writeJSON(w, http.StatusOK, renderAccount(c))

	case http.MethodPut:
		var req struct {
			AccessToken  *string `json:"access_token"`
			RefreshToken *string `json:"refresh_token"`
			Region       *string `json:"region"`
			Tier         *string `json:"tier"`
			Disabled     *bool   `json:"disabled"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}
		ok := g.pool.Update(id, credential.Patch{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			Region:       req.Region,
			Tier:         req.Tier,
			Disabled:     req.Disabled,
		})
		if !ok {
			writeJSONError(w, http.StatusNotFound, "invalid_request_error", "account not found")
			return
		}
		c, _ := g.pool.Get(id)
		writeJSON(w, http.StatusOK, renderAccount(c))

	case http.MethodDelete:
		g.pool.Remove(id)
		_ = g.store.Delete("credentials/" + id)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}

// handleAccountRefresh marks a credential as freshly refreshed. It performs
// no refresh-token exchange: the proxy has no OAuth client of its own
// (spec.md scopes credential acquisition, not token minting); this clears
// ConsecutiveErr/cooldown/quota exhaustion and
// extends Expiry so the credential is immediately eligible again, mirroring
// what a successful out-of-band refresh would leave behind.
func (g *Gateway) handleAccountRefresh(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	ok := g.pool.Refresh(id, time.Now().Add(config.DefaultAccessTokenLifetime))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "invalid_request_error", "account not found")
		return
	}
	c, _ := g.pool.Get(id)
	writeJSON(w, http.StatusOK, renderAccount(c))
}

func (g *Gateway) handleAccountVerify(w http.ResponseWriter, r *http.Request, id string) {
	c, ok := g.pool.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "invalid_request_error", "account not found")
		return
	}
	expired := !c.Expiry.IsZero() && !c.Expiry.After(time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     c.ID,
		"valid":  !c.Disabled && !expired,
		"tier":   c.Tier,
		"expiry": c.Expiry,
	})
}

func (g *Gateway) handleAccountUsage(w http.ResponseWriter, r *http.Request, id string) {
	c, ok := g.pool.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "invalid_request_error", "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              c.ID,
		"requests":        c.Requests,
		"errors":          c.Errors,
		"health_score":    c.HealthScore,
		"quota_exhausted": c.QuotaExhausted,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
