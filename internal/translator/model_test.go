package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModelStripsAnthropicPrefixAndLowercases(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", NormalizeModel("Anthropic/Claude-Sonnet-4-5"))
}

func TestNormalizeModelFoldsDottedVersionTail(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", NormalizeModel("claude-sonnet-4.5"))
}

func TestNormalizeModelStripsDateSuffix(t *testing.T) {
	assert.Equal(t, "claude-3-7-sonnet", NormalizeModel("claude-3-7-sonnet-20250219"))
}

func TestNormalizeModelAliasesOpenAINames(t *testing.T) {
	assert.Equal(t, "claude-opus-4-5", NormalizeModel("gpt-5"))
	assert.Equal(t, "claude-haiku-4-5", NormalizeModel("gpt-4o-mini"))
}

func TestIsSupportedModel(t *testing.T) {
	assert.True(t, IsSupportedModel("claude-opus-4-5"))
	assert.False(t, IsSupportedModel("gpt-5"))
}
