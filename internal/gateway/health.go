package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

const gatewayVersion = "1.0.0"

// handleHealth implements GET /health (spec.md §6: "{status, version,
// timestamp}").
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := g.store.Set("_health_", []byte("ok")); err != nil {
		status = "degraded"
	} else {
		_ = g.store.Delete("_health_")
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"version":   gatewayVersion,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleProxyStatus implements GET /api/proxy/status and /api/proxy/health
// (spec.md §6: "Public status").
func (g *Gateway) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"breaker_state":  g.breaker.CurrentState(),
		"credentials":    g.pool.Len(),
		"started_at":     g.metrics.StartedAt().Format(time.RFC3339),
	})
}

// handleMetrics implements GET /api/metrics (spec.md §6: "Public status").
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.metrics.FullStats())
}
