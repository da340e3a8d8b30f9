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

type openAIDialect struct{}

func (openAIDialect) parse(body []byte, sessions *translator.SessionConversationMap, now time.Time) (string, bool, bool, translator.CanonicalPayload, error) {
	req, err := translator.ParseOpenAIRequest(body)
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

func (openAIDialect) writeNonStream(w http.ResponseWriter, resp translator.Response, model string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(translator.OpenAIResponse(resp, model))
}

func (openAIDialect) newSink(w http.ResponseWriter, flush func(), model string) upstream.Sink {
	return sse.NewOpenAIEncoder(w, flush, "chatcmpl-"+uuid.NewString(), model)
}

func (openAIDialect) overloadedStatus() int { return http.StatusServiceUnavailable }
func (openAIDialect) overloadedType() string { return "server_error" }

// handleChatCompletions implements POST /v1/chat/completions (spec.md §6).
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request, auth clientAuth) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	g.servePipeline(w, r, auth, openAIDialect{})
}

// handleModels implements GET /v1/models (spec.md §6: "OpenAI-style model
// list").
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request, _ clientAuth) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	ids := []string{
		"claude-opus-4-5", "claude-sonnet-4-5", "claude-sonnet-4",
		"claude-haiku-4-5", "claude-3-7-sonnet-20250219",
	}
	data := make([]modelEntry, 0, len(ids))
	for _, id := range ids {
		data = append(data, modelEntry{ID: id, Object: "model", Created: 0, OwnedBy: "anthropic"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}
