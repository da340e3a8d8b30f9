package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// AnthropicRequest is the parsed subset of an Anthropic /v1/messages body.
type AnthropicRequest struct {
	raw    []byte
	Model  string
	System string
	Messages []anthropicMessage
	Tools  []anthropicTool
	Stream bool
	MaxTokens int

	Thinking       string // "" | "enabled" | "adaptive" | "disabled"
	ThinkingBudget int
	UserID         string
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ParseAnthropicRequest decodes the known fields of an Anthropic messages body.
func ParseAnthropicRequest(body []byte) (*AnthropicRequest, error) {
	var decoded struct {
		Model     string             `json:"model"`
		System    json.RawMessage    `json:"system"`
		Messages  []anthropicMessage `json:"messages"`
		Tools     []anthropicTool    `json:"tools"`
		Stream    bool               `json:"stream"`
		MaxTokens int                `json:"max_tokens"`
		Thinking  struct {
			Type         string `json:"type"`
			BudgetTokens int    `json:"budget_tokens"`
		} `json:"thinking"`
		Metadata struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parsing anthropic request: %w", err)
	}

	return &AnthropicRequest{
		raw:            body,
		Model:          decoded.Model,
		System:         extractText(decoded.System),
		Messages:       decoded.Messages,
		Tools:          decoded.Tools,
		Stream:         decoded.Stream,
		MaxTokens:      decoded.MaxTokens,
		Thinking:       decoded.Thinking.Type,
		ThinkingBudget: decoded.Thinking.BudgetTokens,
		UserID:         decoded.Metadata.UserID,
	}, nil
}

// VendorField reads an arbitrary residue field through from the original
// body without requiring a typed struct field for it.
func (r *AnthropicRequest) VendorField(path string) gjson.Result {
	return gjson.GetBytes(r.raw, path)
}

// ToCanonical builds a CanonicalPayload from the parsed Anthropic request
// (spec.md §4.2 forward transform rules).
func (r *AnthropicRequest) ToCanonical(sessions *SessionConversationMap, now time.Time) (CanonicalPayload, error) {
	var turns []Turn

	for _, m := range r.Messages {
		blocks, err := decodeBlocks(m.Content)
		if err != nil {
			return CanonicalPayload{}, fmt.Errorf("decoding message content: %w", err)
		}

		role := RoleUser
		if m.Role == "assistant" {
			role = RoleAssistant
		}
		t := Turn{Role: role}

		var textParts []string
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					textParts = append(textParts, b.Text)
				}
			case "image":
				if b.Source != nil && b.Source.Type == "base64" {
					data, err := decodeBase64Loose(b.Source.Data)
					if err == nil {
						t.Images = append(t.Images, Image{Format: normalizeMediaType(b.Source.MediaType), Data: data})
					}
				}
			case "tool_use":
				t.ToolUses = append(t.ToolUses, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
			case "tool_result":
				t.ToolResults = append(t.ToolResults, ToolResult{
					ToolUseID: b.ToolUseID,
					Content:   flattenToolResultContent(b.Content),
					IsError:   b.IsError,
				})
			}
		}
		t.Text = strings.Join(textParts, "\n")
		turns = append(turns, t)
	}

	if len(turns) == 0 {
		return CanonicalPayload{}, fmt.Errorf("no messages in request")
	}

	current := turns[len(turns)-1]
	history := turns[:len(turns)-1]

	if r.System != "" {
		history = append([]Turn{
			{Role: RoleUser, Text: r.System},
			{Role: RoleAssistant, Text: "Understood. I will follow these instructions."},
		}, history...)
	}

	history = SanitizeHistory(history)

	var tools []ToolSpec
	for _, t := range r.Tools {
		tools = append(tools, ToolSpec{Name: t.Name, Description: t.Description, Schema: t.InputSchema})
	}
	tools = EnsureHistoryToolCompleteness(tools, history)

	mode, budget := DeriveThinking(ThinkingRequest{
		Model:             r.Model,
		AnthropicThinking: r.Thinking,
		AnthropicBudget:   r.ThinkingBudget,
	})

	current.Text = decoratedCurrentText(current.Text, mode, budget, len(tools) > 0, now)

	return CanonicalPayload{
		ConversationID:     sessions.ConversationID(r.UserID),
		CurrentUserMessage: current,
		History:            history,
		Tools:              tools,
		Inference: InferenceConfig{
			ThinkingMode:   mode,
			ThinkingBudget: budget,
			Stream:         r.Stream,
			MaxTokens:      r.MaxTokens,
		},
	}, nil
}

func decodeBlocks(content json.RawMessage) ([]anthropicContentBlock, error) {
	if len(content) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return []anthropicContentBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func flattenToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	blocks, err := decodeBlocks(raw)
	if err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func normalizeMediaType(mediaType string) string {
	format := strings.TrimPrefix(mediaType, "image/")
	if format == "jpg" {
		format = "jpeg"
	}
	return format
}

func decodeBase64Loose(s string) ([]byte, error) {
	img, err := ExtractImage("data:image/x;base64," + s)
	if err != nil {
		return nil, err
	}
	return img.Data, nil
}

// AnthropicResponse renders the canonical Response as an Anthropic
// non-streaming message body (spec.md §4.2 "Inverse transforms").
func AnthropicResponse(resp Response, model string) map[string]any {
	var content []map[string]any
	if resp.Thinking != "" {
		content = append(content, map[string]any{"type": "thinking", "thinking": resp.Thinking})
	}
	if resp.Text != "" {
		content = append(content, map[string]any{"type": "text", "text": resp.Text})
	}
	for _, tu := range resp.ToolUses {
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tu.ID,
			"name":  tu.Name,
			"input": json.RawMessage(tu.Input),
		})
	}

	stop := "end_turn"
	switch resp.StopReason {
	case StopToolUse:
		stop = "tool_use"
	case StopMaxTokens:
		stop = "max_tokens"
	case StopContentLengthExceed:
		stop = "max_tokens"
	}

	return map[string]any{
		"id":            "msg_" + resp.ID,
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       content,
		"stop_reason":   stop,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":               resp.Usage.InputTokens,
			"output_tokens":              resp.Usage.OutputTokens,
			"cache_read_input_tokens":    resp.Usage.CacheReadTokens,
			"cache_creation_input_tokens": resp.Usage.CacheCreationTokens,
		},
	}
}
