package gateway

import "net/http"

// handleStats implements GET /api/proxy/stats (spec.md §6: "Private stats
// and config").
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, g.metrics.FullStats())
}
