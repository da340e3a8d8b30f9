package translator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHistoryStartsWithUserAndAlternates(t *testing.T) {
	turns := []Turn{
		{Role: RoleAssistant, Text: "hi"},
		{Role: RoleAssistant, Text: "again"},
		{Role: RoleUser, Text: "hello"},
	}
	out := SanitizeHistory(turns)

	require.NotEmpty(t, out)
	assert.Equal(t, RoleUser, out[0].Role)
	for i := 1; i < len(out); i++ {
		assert.NotEqual(t, out[i-1].Role, out[i].Role, "turn %d should alternate", i)
	}
}

func TestSanitizeHistoryIsIdempotent(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "a"},
		{Role: RoleAssistant, ToolUses: []ToolUse{{ID: "t1", Name: "search"}}},
		{Role: RoleUser, ToolResults: []ToolResult{{ToolUseID: "t1", Content: "result"}}},
	}
	once := SanitizeHistory(turns)
	twice := SanitizeHistory(once)
	assert.Equal(t, once, twice)
}

func TestSanitizeHistoryDropsOrphanToolUse(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "a"},
		{Role: RoleAssistant, Text: "calling", ToolUses: []ToolUse{{ID: "orphan", Name: "search"}}},
		{Role: RoleUser, Text: "b"},
	}
	out := SanitizeHistory(turns)
	assert.True(t, ValidateNoOrphans(out))
}

func TestSanitizeHistoryFillsEmptyContent(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: ""},
		{Role: RoleAssistant, Text: ""},
	}
	out := SanitizeHistory(turns)
	for _, turn := range out {
		assert.NotEmpty(t, turn.Text)
	}
}

func TestOpenAIRequestToCanonicalLiftsSystemPrompt(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4.1",
		"messages": [
			{"role": "system", "content": "Be concise."},
			{"role": "user", "content": "hello"}
		]
	}`)
	req, err := ParseOpenAIRequest(body)
	require.NoError(t, err)

	sessions := NewSessionConversationMap()
	payload, err := req.ToCanonical(sessions, time.Unix(0, 0))
	require.NoError(t, err)

	require.Len(t, payload.History, 2)
	assert.Equal(t, RoleUser, payload.History[0].Role)
	assert.Equal(t, "Be concise.", payload.History[0].Text)
	assert.Contains(t, payload.CurrentUserMessage.Text, "hello")
	assert.Contains(t, payload.CurrentUserMessage.Text, "Current time:")
}

func TestOpenAIRequestDerivesThinkingFromModelSuffix(t *testing.T) {
	body := []byte(`{"model": "vendor-model-thinking", "messages": [{"role": "user", "content": "hi"}]}`)
	req, err := ParseOpenAIRequest(body)
	require.NoError(t, err)

	sessions := NewSessionConversationMap()
	payload, err := req.ToCanonical(sessions, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ThinkingEnabled, payload.Inference.ThinkingMode)
	assert.Contains(t, payload.CurrentUserMessage.Text, "<thinking_mode>enabled</thinking_mode>")
}

func TestAnthropicRequestToCanonicalHandlesToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"model": "claude-vendor",
		"system": "You are terse.",
		"messages": [
			{"role": "user", "content": "run search"},
			{"role": "assistant", "content": [{"type": "tool_use", "id": "tu1", "name": "search", "input": {"q": "go"}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "tu1", "content": "results here"}]}
		]
	}`)
	req, err := ParseAnthropicRequest(body)
	require.NoError(t, err)

	sessions := NewSessionConversationMap()
	payload, err := req.ToCanonical(sessions, time.Now())
	require.NoError(t, err)

	assert.True(t, ValidateNoOrphans(payload.History))
	assert.NotEmpty(t, payload.CurrentUserMessage.Text)
}

func TestOpenAIResponseMapsToolCallsToFinishReason(t *testing.T) {
	resp := Response{
		ID:         "abc",
		ToolUses:   []ToolUse{{ID: "tu1", Name: "search", Input: []byte(`{}`)}},
		StopReason: StopToolUse,
	}
	out := OpenAIResponse(resp, "gpt-4.1")
	choices := out["choices"].([]map[string]any)
	require.Len(t, choices, 1)
	assert.Equal(t, "tool_calls", choices[0]["finish_reason"])
}

func TestAnthropicResponseIncludesThinkingBlockFirst(t *testing.T) {
	resp := Response{ID: "abc", Thinking: "pondering", Text: "done", StopReason: StopEndTurn}
	out := AnthropicResponse(resp, "claude-vendor")
	content := out["content"].([]map[string]any)
	require.Len(t, content, 2)
	assert.Equal(t, "thinking", content[0]["type"])
	assert.Equal(t, "text", content[1]["type"])
}

func TestSessionConversationMapReturnsStableID(t *testing.T) {
	m := NewSessionConversationMap()
	first := m.ConversationID("session-a")
	second := m.ConversationID("session-a")
	assert.Equal(t, first, second)

	third := m.ConversationID("")
	fourth := m.ConversationID("")
	assert.NotEqual(t, third, fourth)
}

func TestExtractImageNormalizesJpgToJpeg(t *testing.T) {
	img, err := ExtractImage("data:image/jpg;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", img.Format)
	assert.Equal(t, []byte("hello"), img.Data)
}

func TestToolConvertCacheReturnsSameSliceOnHit(t *testing.T) {
	cache := NewToolConvertCache()
	specs := []ToolSpec{{Name: "search", Description: "find stuff"}}
	first := cache.GetOrConvert(specs)
	second := cache.GetOrConvert(specs)
	assert.Equal(t, first, second)
	assert.Same(t, &first[0], &second[0])
}
