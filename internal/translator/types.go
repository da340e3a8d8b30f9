// Package translator converts between the OpenAI chat-completions dialect,
// the Anthropic messages dialect, and the canonical upstream payload shape
// (spec.md §4.2), preserving tool-use, multimodal, and thinking semantics.
package translator

import "encoding/json"

// Role is a canonical message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an extracted inline image (spec.md §4.2 "Image extraction").
type Image struct {
	Format string // normalized, e.g. "jpeg"
	Data   []byte
}

// ToolUse is an assistant-issued tool call.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the user-provided response to a prior ToolUse, paired by ID.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Turn is one canonical history entry.
type Turn struct {
	Role        Role
	Text        string
	Images      []Image
	ToolUses    []ToolUse    // only meaningful when Role == assistant
	ToolResults []ToolResult // only meaningful when Role == user
}

// ToolSpec is a canonical tool definition accepted upstream.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// InferenceConfig carries sampling and thinking-mode parameters.
type InferenceConfig struct {
	Temperature    *float64
	MaxTokens      int
	ThinkingMode   ThinkingMode
	ThinkingBudget int
	Stream         bool
}

// ThinkingMode is whether/how the request wants reasoning surfaced
// (spec.md §4.2 "Thinking/reasoning lifting").
type ThinkingMode string

const (
	ThinkingDisabled ThinkingMode = ""
	ThinkingEnabled  ThinkingMode = "enabled"
	ThinkingAdaptive ThinkingMode = "adaptive"
)

// CanonicalPayload is the `(conversationId, currentUserMessage,
// orderedHistory[], tools[], inferenceConfig, profileRef)` tuple described
// in spec.md §3.
type CanonicalPayload struct {
	ConversationID     string
	CurrentUserMessage Turn
	History            []Turn
	Tools              []ToolSpec
	Inference          InferenceConfig
	ProfileRef         string
}

// Dialect identifies which wire format a request/response uses.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// Usage carries upstream-reported token accounting (spec.md §4.3
// messageMetadataEvent).
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	ReasoningTokens     int
}

// StopReason is the canonical reason a response ended.
type StopReason string

const (
	StopEndTurn             StopReason = "end_turn"
	StopToolUse             StopReason = "tool_use"
	StopMaxTokens           StopReason = "max_tokens"
	StopContentLengthExceed StopReason = "content_length_exceeded"
)

// Response is the canonical non-streaming result handed back to either
// inverse transform.
type Response struct {
	ID         string
	Text       string
	Thinking   string
	ToolUses   []ToolUse
	StopReason StopReason
	Usage      Usage
}
