package upstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/translator"
)

func TestBuildRequestBodyRoundTripsHistoryAndTools(t *testing.T) {
	payload := translator.CanonicalPayload{
		ConversationID:     "conv-1",
		CurrentUserMessage: translator.Turn{Role: translator.RoleUser, Text: "hello"},
		History: []translator.Turn{
			{Role: translator.RoleUser, Text: "hi"},
			{Role: translator.RoleAssistant, Text: "hey"},
		},
		Tools: []translator.ToolSpec{{Name: "search", Description: "searches", Schema: []byte(`{"type":"object"}`)}},
	}

	body, err := BuildRequestBody(payload, "model-x")
	require.NoError(t, err)

	var state conversationState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "conv-1", state.ConversationID)
	assert.Equal(t, "model-x", state.ModelID)
	assert.Len(t, state.History, 2)
	assert.Equal(t, "search", state.Tools[0].Name)
}

func TestTruncateHistoryTiersKeepsHalfThenQuarterThenNone(t *testing.T) {
	state := conversationState{ModelID: "m"}
	for i := 0; i < 8; i++ {
		state.History = append(state.History, wireMessage{Role: "user", Content: "x"})
	}
	body, _ := json.Marshal(state)

	tier0 := TruncateHistoryTiers(body, 0)
	var s0 conversationState
	require.NoError(t, json.Unmarshal(tier0, &s0))
	assert.Len(t, s0.History, 4)

	tier2 := TruncateHistoryTiers(body, 2)
	var s2 conversationState
	require.NoError(t, json.Unmarshal(tier2, &s2))
	assert.Len(t, s2.History, 0)
}

func TestSanitizeBodyStripsToolActivity(t *testing.T) {
	state := conversationState{
		History: []wireMessage{
			{Role: "assistant", ToolUses: []wireToolUse{{ToolUseID: "t1", Name: "x"}}},
			{Role: "user", ToolResults: []wireToolResult{{ToolUseID: "t1", Content: "y"}}},
		},
	}
	body, _ := json.Marshal(state)

	sanitized := SanitizeBody(body)
	var s conversationState
	require.NoError(t, json.Unmarshal(sanitized, &s))
	assert.Empty(t, s.History[0].ToolUses)
	assert.Empty(t, s.History[1].ToolResults)
}
