package thinkingparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collectText(deltas []Delta) (text, thinking string) {
	for _, d := range deltas {
		if d.Thinking {
			thinking += d.Text
		} else {
			text += d.Text
		}
	}
	return
}

func TestFeedPassesThroughPlainText(t *testing.T) {
	p := New()
	deltas := p.Feed("hello world")
	text, thinking := collectText(deltas)
	assert.Equal(t, "hello world", text)
	assert.Empty(t, thinking)
}

func TestFeedSplitsThinkingBlock(t *testing.T) {
	p := New()
	deltas := p.Feed("before <thinking>pondering</thinking>\n\nafter")
	text, thinking := collectText(deltas)
	assert.Equal(t, "before after", text)
	assert.Equal(t, "pondering", thinking)
}

func TestFeedHoldsPartialTagAcrossChunks(t *testing.T) {
	p := New()
	var text, thinking string

	t1, th1 := collectText(p.Feed("hello <thi"))
	text += t1
	thinking += th1
	t2, th2 := collectText(p.Feed("nking>secret</thinking>\n\nworld"))
	text += t2
	thinking += th2

	assert.Equal(t, "hello world", text)
	assert.Equal(t, "secret", thinking)
}

func TestFeedTreatsQuotedTagAsLiteral(t *testing.T) {
	p := New()
	deltas := p.Feed(`she said "<thinking>" literally`)
	text, thinking := collectText(deltas)
	assert.Contains(t, text, "<thinking>")
	assert.Empty(t, thinking)
}

func TestFlushReturnsDanglingThinkingContent(t *testing.T) {
	p := New()
	p.Feed("<thinking>partial<")
	deltas := p.Flush()
	_, thinking := collectText(deltas)
	assert.Equal(t, "<", thinking)
	assert.True(t, p.InThinking())
}

func TestOverflowGuardForceExitsLongThinkingBlock(t *testing.T) {
	p := New()
	p.Feed("<thinking>")
	big := make([]byte, overflowCharLimit+100)
	for i := range big {
		big[i] = 'x'
	}
	p.Feed(string(big))
	assert.False(t, p.InThinking())
}
