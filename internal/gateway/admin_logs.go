package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

// handleLogs implements GET /api/proxy/logs (spec.md §6: "Private stats and
// config").
func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	n := atoiOr(r.URL.Query().Get("limit"), 100)
	writeJSON(w, http.StatusOK, g.reqLog.Recent(n))
}

// handleLogsStream pushes new request-log entries to the admin dashboard
// over a websocket, supplementing the polling /api/proxy/logs endpoint with
// a live tail (SPEC_FULL.md §6). Grounded on the teacher's zerolog-driven
// request logging, adapted to push over coder/websocket instead of writing
// to stdout.
func (g *Gateway) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("logs stream: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			return
		case <-ticker.C:
			count := g.reqLog.Count()
			if count <= sent {
				continue
			}
			fresh := g.reqLog.Recent(count - sent)
			for i := len(fresh) - 1; i >= 0; i-- {
				if err := wsjson.Write(ctx, conn, fresh[i]); err != nil {
					return
				}
			}
			sent = count
		}
	}
}
