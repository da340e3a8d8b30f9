package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/credential"
	"github.com/vendorgate/gateway/internal/fault"
)

// handleSettings implements GET/PUT /api/settings: the full persisted
// config.ProxySettings document (spec.md §6 "config/settings").
func (g *Gateway) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.settingsMu.RLock()
		s := g.settings
		g.settingsMu.RUnlock()
		writeJSON(w, http.StatusOK, s)

	case http.MethodPut:
		var s config.ProxySettings
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&s); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}
		g.settingsMu.Lock()
		g.settings = s
		g.settingsMu.Unlock()
		g.pool.SetPolicy(credential.PolicyKind(s.SchedulerPolicy))
		writeJSON(w, http.StatusOK, s)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}

// proxyConfigView surfaces the live-tunable runtime knobs derived from
// settings: scheduler policy, rate limit, and the breaker's current state
// (spec.md §6 "config/proxy").
type proxyConfigView struct {
	SchedulerPolicy    string      `json:"scheduler_policy"`
	RateLimitPerMinute int         `json:"rate_limit_per_minute"`
	BreakerState       fault.State `json:"breaker_state"`
	CompressionEnabled bool        `json:"compression_enabled"`
}

// handleProxyConfig implements GET/PUT /api/proxy/config.
func (g *Gateway) handleProxyConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.settingsMu.RLock()
		s := g.settings
		g.settingsMu.RUnlock()
		writeJSON(w, http.StatusOK, proxyConfigView{
			SchedulerPolicy:    s.SchedulerPolicy,
			RateLimitPerMinute: s.RateLimitPerMinute,
			BreakerState:       g.breaker.CurrentState(),
			CompressionEnabled: s.CompressionEnabled,
		})

	case http.MethodPut:
		var req struct {
			SchedulerPolicy    *string `json:"scheduler_policy"`
			RateLimitPerMinute *int    `json:"rate_limit_per_minute"`
			CompressionEnabled *bool   `json:"compression_enabled"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
			return
		}

		g.settingsMu.Lock()
		if req.SchedulerPolicy != nil {
			g.settings.SchedulerPolicy = *req.SchedulerPolicy
			g.pool.SetPolicy(credential.PolicyKind(*req.SchedulerPolicy))
		}
		if req.RateLimitPerMinute != nil {
			g.settings.RateLimitPerMinute = *req.RateLimitPerMinute
			if *req.RateLimitPerMinute > 0 {
				g.limiter = fault.NewLimiter(float64(*req.RateLimitPerMinute))
			} else {
				g.limiter = nil
			}
		}
		if req.CompressionEnabled != nil {
			g.settings.CompressionEnabled = *req.CompressionEnabled
		}
		s := g.settings
		g.settingsMu.Unlock()

		writeJSON(w, http.StatusOK, proxyConfigView{
			SchedulerPolicy:    s.SchedulerPolicy,
			RateLimitPerMinute: s.RateLimitPerMinute,
			BreakerState:       g.breaker.CurrentState(),
			CompressionEnabled: s.CompressionEnabled,
		})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}
