package sse

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/translator"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("client disconnected")
}

func TestMicroBufferFlushesAtByteThreshold(t *testing.T) {
	var flushed [][]byte
	m := NewMicroBuffer(func(b []byte) { flushed = append(flushed, append([]byte(nil), b...)) })

	big := bytes.Repeat([]byte("x"), 1100)
	m.Write(big)

	require.Len(t, flushed, 1)
	assert.Equal(t, big, flushed[0])
}

func TestMicroBufferHoldsSmallWritesUntilForced(t *testing.T) {
	var flushed [][]byte
	m := NewMicroBuffer(func(b []byte) { flushed = append(flushed, b) })

	m.Write([]byte("a"))
	assert.Empty(t, flushed)

	m.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "a", string(flushed[0]))
}

func TestAnthropicEncoderEmitsMessageStopOnce(t *testing.T) {
	var buf bytes.Buffer
	enc := NewAnthropicEncoder(&buf, func() {}, "msg1")
	enc.Start("claude-test-model")
	enc.OnTextDelta("hello")
	enc.OnComplete(translator.Usage{InputTokens: 10, OutputTokens: 5})
	enc.OnComplete(translator.Usage{InputTokens: 10, OutputTokens: 5})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "event: message_stop"))
	assert.Contains(t, out, "message_start")
	assert.Contains(t, out, "content_block_start")
}

func TestAnthropicEncoderStopReasonToolUse(t *testing.T) {
	var buf bytes.Buffer
	enc := NewAnthropicEncoder(&buf, func() {}, "msg1")
	enc.Start("claude-test-model")
	enc.OnToolStart("tu1", "search")
	enc.OnToolStop("tu1", nil)
	enc.OnComplete(translator.Usage{})

	assert.Contains(t, buf.String(), `"stop_reason":"tool_use"`)
}

func TestOpenAIEncoderTerminatesWithDone(t *testing.T) {
	var buf bytes.Buffer
	enc := NewOpenAIEncoder(&buf, func() {}, "chatcmpl-1", "gpt-4.1")
	enc.OnTextDelta("hi")
	enc.OnComplete(translator.Usage{InputTokens: 1, OutputTokens: 1})

	out := buf.String()
	assert.Contains(t, out, "data: [DONE]")
	assert.Equal(t, 1, strings.Count(out, "[DONE]"))
}

func TestAnthropicEncoderCancelsWithinWindowOnWriteFailure(t *testing.T) {
	enc := NewAnthropicEncoder(failingWriter{}, func() {}, "msg1")
	var cancelled atomic.Bool
	enc.SetCancelFunc(func() { cancelled.Store(true) })

	enc.Start("claude-test-model")

	require.Eventually(t, cancelled.Load, config.WriteFailureCancelWindow*2, time.Millisecond)
}

func TestOpenAIEncoderCancelsWithinWindowOnWriteFailure(t *testing.T) {
	enc := NewOpenAIEncoder(failingWriter{}, func() {}, "chatcmpl-1", "gpt-4.1")
	var cancelled atomic.Bool
	enc.SetCancelFunc(func() { cancelled.Store(true) })

	enc.OnTextDelta("hi")
	enc.micro.Flush()

	require.Eventually(t, cancelled.Load, config.WriteFailureCancelWindow*2, time.Millisecond)
}

func TestOpenAIEncoderFirstChunkCarriesRole(t *testing.T) {
	var buf bytes.Buffer
	enc := NewOpenAIEncoder(&buf, func() {}, "chatcmpl-1", "gpt-4.1")
	enc.OnTextDelta("hi")
	enc.micro.Flush()

	assert.Contains(t, buf.String(), `"role":"assistant"`)
}
