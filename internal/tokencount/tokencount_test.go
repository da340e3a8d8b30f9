package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateMinimumOneToken(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.GreaterOrEqual(t, Estimate("a"), 1)
	assert.GreaterOrEqual(t, Estimate("   "), 1)
}

func TestEstimateShortWordsCountOne(t *testing.T) {
	// "go is fun" -> three words, each <=4 chars -> 1 token each, plus 0.5*2 whitespace
	tokens := Estimate("go is fun")
	require.Greater(t, tokens, 0)
}

func TestEstimateLongWordUsesCeilLen(t *testing.T) {
	short := Estimate("cat")
	long := Estimate("internationalization")
	assert.Greater(t, long, short)
}

func TestEstimateCJKWeightsHigherThanASCII(t *testing.T) {
	ascii := Estimate("hello")
	cjk := Estimate("你好世界")
	assert.Greater(t, cjk, ascii)
	assert.Greater(t, cjk, 0)
}

func TestCountFallsBackWhenNoEncoding(t *testing.T) {
	// The upstream's proprietary model name has no tiktoken encoding, so
	// Count() must fall back to the heuristic rather than panic or return 0.
	got := Count("hello world", "claude-opus-4-5-nonexistent-vendor-model")
	assert.Equal(t, Estimate("hello world"), got)
}
