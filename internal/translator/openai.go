package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// OpenAIRequest is the parsed subset of an OpenAI chat-completions body we
// act on. The original raw body is kept so schema-loose/unknown fields can
// be read through with gjson rather than lost (spec.md §9 "Dynamic typing /
// shape drift").
type OpenAIRequest struct {
	raw      []byte
	Model    string
	Messages []openAIMessage
	Tools    []openAITool
	Stream   bool
	User     string

	ReasoningEffort    string
	ReasoningMaxTokens int
}

type openAIMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// ParseOpenAIRequest decodes the known fields of an OpenAI request body.
func ParseOpenAIRequest(body []byte) (*OpenAIRequest, error) {
	var decoded struct {
		Model    string           `json:"model"`
		Messages []openAIMessage  `json:"messages"`
		Tools    []openAITool     `json:"tools"`
		Stream   bool             `json:"stream"`
		User     string           `json:"user"`
		Reasoning struct {
			Effort    string `json:"effort"`
			MaxTokens int    `json:"max_tokens"`
		} `json:"reasoning"`
		ReasoningEffort string `json:"reasoning_effort"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parsing openai request: %w", err)
	}

	effort := decoded.ReasoningEffort
	if effort == "" {
		effort = decoded.Reasoning.Effort
	}

	return &OpenAIRequest{
		raw:                body,
		Model:              decoded.Model,
		Messages:           decoded.Messages,
		Tools:              decoded.Tools,
		Stream:             decoded.Stream,
		User:               decoded.User,
		ReasoningEffort:    effort,
		ReasoningMaxTokens: decoded.Reasoning.MaxTokens,
	}, nil
}

// VendorField reads an arbitrary residue field through from the original
// body without requiring a typed struct field for it.
func (r *OpenAIRequest) VendorField(path string) gjson.Result {
	return gjson.GetBytes(r.raw, path)
}

// ToCanonical builds a CanonicalPayload from the parsed OpenAI request
// (spec.md §4.2 forward transform rules).
func (r *OpenAIRequest) ToCanonical(sessions *SessionConversationMap, now time.Time) (CanonicalPayload, error) {
	var turns []Turn
	var systemParts []string

	for _, m := range r.Messages {
		switch m.Role {
		case "system", "developer":
			systemParts = append(systemParts, extractText(m.Content))
		case "user":
			turns = append(turns, Turn{Role: RoleUser, Text: extractText(m.Content), Images: extractImages(m.Content)})
		case "assistant":
			t := Turn{Role: RoleAssistant, Text: extractText(m.Content)}
			for _, tc := range m.ToolCalls {
				t.ToolUses = append(t.ToolUses, ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments)})
			}
			turns = append(turns, t)
		case "tool":
			turns = append(turns, Turn{Role: RoleUser, ToolResults: []ToolResult{{ToolUseID: m.ToolCallID, Content: extractText(m.Content)}}})
		}
	}

	if len(turns) == 0 {
		return CanonicalPayload{}, fmt.Errorf("no messages in request")
	}

	systemPrompt := strings.Join(systemParts, "\n\n")
	current := turns[len(turns)-1]
	history := turns[:len(turns)-1]

	if systemPrompt != "" {
		history = append([]Turn{
			{Role: RoleUser, Text: systemPrompt},
			{Role: RoleAssistant, Text: "Understood. I will follow these instructions."},
		}, history...)
	}

	history = SanitizeHistory(history)

	var tools []ToolSpec
	for _, t := range r.Tools {
		tools = append(tools, ToolSpec{Name: t.Function.Name, Description: t.Function.Description, Schema: t.Function.Parameters})
	}
	tools = EnsureHistoryToolCompleteness(tools, history)

	mode, budget := DeriveThinking(ThinkingRequest{
		Model:              r.Model,
		ReasoningEffort:    r.ReasoningEffort,
		ReasoningMaxTokens: r.ReasoningMaxTokens,
	})

	current.Text = decoratedCurrentText(current.Text, mode, budget, len(tools) > 0, now)

	return CanonicalPayload{
		ConversationID:     sessions.ConversationID(r.User),
		CurrentUserMessage: current,
		History:            history,
		Tools:              tools,
		Inference: InferenceConfig{
			ThinkingMode:   mode,
			ThinkingBudget: budget,
			Stream:         r.Stream,
		},
	}, nil
}

func decoratedCurrentText(text string, mode ThinkingMode, budget int, hasTools bool, now time.Time) string {
	var b strings.Builder
	b.WriteString(CurrentTimeBlock(now))
	b.WriteString(ToolSizeAdvisoryBlock(hasTools))
	b.WriteString(ThinkingTagBlock(mode, budget))
	b.WriteString(text)
	return b.String()
}

// extractText pulls plain text out of an OpenAI content field, which may be
// a bare string or an array of typed content parts.
func extractText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}
	var out []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return strings.Join(out, "\n")
}

func extractImages(content json.RawMessage) []Image {
	var parts []struct {
		Type     string `json:"type"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(content, &parts); err != nil {
		return nil
	}
	var images []Image
	for _, p := range parts {
		if p.Type != "image_url" || p.ImageURL.URL == "" {
			continue
		}
		if img, err := ExtractImage(p.ImageURL.URL); err == nil {
			images = append(images, img)
		}
	}
	return images
}

// OpenAIResponse renders the canonical Response as an OpenAI non-streaming
// chat-completion body (spec.md §4.2 "Inverse transforms").
func OpenAIResponse(resp Response, model string) map[string]any {
	finish := "stop"
	if resp.StopReason == StopToolUse {
		finish = "tool_calls"
	} else if resp.StopReason == StopMaxTokens || resp.StopReason == StopContentLengthExceed {
		finish = "length"
	}

	message := map[string]any{"role": "assistant", "content": resp.Text}
	if len(resp.ToolUses) > 0 {
		var calls []map[string]any
		for _, tu := range resp.ToolUses {
			calls = append(calls, map[string]any{
				"id":   tu.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tu.Name,
					"arguments": string(tu.Input),
				},
			})
		}
		message["tool_calls"] = calls
	}

	usage := map[string]any{
		"prompt_tokens":     resp.Usage.InputTokens,
		"completion_tokens": resp.Usage.OutputTokens,
		"total_tokens":      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if resp.Usage.CacheReadTokens > 0 {
		usage["prompt_tokens_details"] = map[string]any{"cached_tokens": resp.Usage.CacheReadTokens}
	}
	if resp.Usage.ReasoningTokens > 0 {
		usage["completion_tokens_details"] = map[string]any{"reasoning_tokens": resp.Usage.ReasoningTokens}
	}

	return map[string]any{
		"id":      "chatcmpl-" + resp.ID,
		"object":  "chat.completion",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
		"usage":   usage,
	}
}
