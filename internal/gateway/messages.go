package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vendorgate/gateway/internal/sse"
	"github.com/vendorgate/gateway/internal/translator"
	"github.com/vendorgate/gateway/internal/upstream"
)

type anthropicDialect struct{}

func (anthropicDialect) parse(body []byte, sessions *translator.SessionConversationMap, now time.Time) (string, bool, bool, translator.CanonicalPayload, error) {
	req, err := translator.ParseAnthropicRequest(body)
	if err != nil {
		return "", false, false, translator.CanonicalPayload{}, err
	}
	payload, err := req.ToCanonical(sessions, now)
	if err != nil {
		return "", false, false, translator.CanonicalPayload{}, err
	}
	thinkingEnabled := payload.Inference.ThinkingMode != translator.ThinkingDisabled
	return req.Model, req.Stream, thinkingEnabled, payload, nil
}

func (anthropicDialect) writeNonStream(w http.ResponseWriter, resp translator.Response, model string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(translator.AnthropicResponse(resp, model))
}

func (anthropicDialect) newSink(w http.ResponseWriter, flush func(), model string) upstream.Sink {
	e := sse.NewAnthropicEncoder(w, flush, "msg_"+uuid.NewString())
	e.Start(model)
	return e
}

func (anthropicDialect) overloadedStatus() int  { return 529 }
func (anthropicDialect) overloadedType() string { return "overloaded_error" }

// handleMessages implements POST /v1/messages (spec.md §6).
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request, auth clientAuth) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	g.servePipeline(w, r, auth, anthropicDialect{})
}
