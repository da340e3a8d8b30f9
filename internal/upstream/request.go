package upstream

import (
	"encoding/base64"
	"encoding/json"

	"github.com/vendorgate/gateway/internal/translator"
	"github.com/vendorgate/gateway/internal/utils"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// wireMessage is one history/current turn in the upstream's conversationState
// wire shape.
type wireMessage struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Images      []wireImage      `json:"images,omitempty"`
	ToolUses    []wireToolUse    `json:"toolUses,omitempty"`
	ToolResults []wireToolResult `json:"toolResults,omitempty"`
}

type wireImage struct {
	Format string `json:"format"`
	Data   string `json:"data"` // base64
}

type wireToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

type wireToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// conversationState is the request body this upstream's binary-streaming
// endpoint accepts: a flattened history plus the current message, tools,
// and inference knobs (spec.md §3's canonical tuple, serialized for the
// wire). The exact field names are this protocol's own (not a format spec.md
// pins down beyond the response framing), modeled after the
// history/tool-pairing rules in §4.2.
type conversationState struct {
	ConversationID string        `json:"conversationId"`
	History        []wireMessage `json:"history"`
	CurrentMessage wireMessage   `json:"currentMessage"`
	Tools          []wireTool    `json:"tools,omitempty"`
	ModelID        string        `json:"modelId"`
	MaxTokens      int           `json:"maxTokens,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	ThinkingMode   string        `json:"thinkingMode,omitempty"`
	ThinkingBudget int           `json:"thinkingBudget,omitempty"`
	ProfileArn     string        `json:"profileArn,omitempty"`
}

// BuildRequestBody serializes a canonical payload into the upstream's
// conversationState wire shape.
func BuildRequestBody(payload translator.CanonicalPayload, model string) ([]byte, error) {
	state := conversationState{
		ConversationID: payload.ConversationID,
		CurrentMessage: toWireMessage(payload.CurrentUserMessage),
		ModelID:        model,
		MaxTokens:      payload.Inference.MaxTokens,
		Temperature:    payload.Inference.Temperature,
		ThinkingBudget: payload.Inference.ThinkingBudget,
		ProfileArn:     payload.ProfileRef,
	}
	if payload.Inference.ThinkingMode != translator.ThinkingDisabled {
		state.ThinkingMode = string(payload.Inference.ThinkingMode)
	}
	for _, t := range payload.History {
		state.History = append(state.History, toWireMessage(t))
	}
	for _, t := range payload.Tools {
		state.Tools = append(state.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.Schema})
	}
	// conversation content routinely carries source code and tool output, so
	// a plain json.Marshal's HTML-escaping would bloat every "<"/">"/"&".
	return utils.MarshalNoEscape(state)
}

// TruncateHistoryTiers implements the degraded content-too-long retry path
// (spec.md §4.2 "Keep last 50% of history → last 25% → none"). attempt is
// 0-indexed across the three tiers.
func TruncateHistoryTiers(body []byte, attempt int) []byte {
	var state conversationState
	if json.Unmarshal(body, &state) != nil {
		return body
	}

	n := len(state.History)
	var keep int
	switch attempt {
	case 0:
		keep = n / 2
	case 1:
		keep = n / 4
	default:
		keep = 0
	}
	state.History = state.History[n-keep:]

	out, err := utils.MarshalNoEscape(state)
	if err != nil {
		return body
	}
	return out
}

// SanitizeBody implements the aggressive-sanitize retry path: strip all
// assistant toolUses and user toolResults from history (spec.md §4.2).
func SanitizeBody(body []byte) []byte {
	var state conversationState
	if json.Unmarshal(body, &state) != nil {
		return body
	}

	for i := range state.History {
		state.History[i].ToolUses = nil
		state.History[i].ToolResults = nil
	}

	out, err := utils.MarshalNoEscape(state)
	if err != nil {
		return body
	}
	return out
}

func toWireMessage(t translator.Turn) wireMessage {
	m := wireMessage{Role: string(t.Role), Content: t.Text}
	for _, img := range t.Images {
		m.Images = append(m.Images, wireImage{Format: img.Format, Data: encodeBase64(img.Data)})
	}
	for _, tu := range t.ToolUses {
		m.ToolUses = append(m.ToolUses, wireToolUse{ToolUseID: tu.ID, Name: tu.Name, Input: tu.Input})
	}
	for _, tr := range t.ToolResults {
		m.ToolResults = append(m.ToolResults, wireToolResult{ToolUseID: tr.ToolUseID, Content: tr.Content, IsError: tr.IsError})
	}
	return m
}
