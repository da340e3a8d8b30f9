package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/translator"
)

type segmentKind string

const (
	segmentNone     segmentKind = ""
	segmentText     segmentKind = "text"
	segmentThinking segmentKind = "thinking"
	segmentTool     segmentKind = "tool_use"
)

// AnthropicEncoder drives the Anthropic messages SSE dialect from decoder
// callbacks (spec.md §4.4 "Anthropic state machine").
type AnthropicEncoder struct {
	mu           sync.Mutex
	w            io.Writer
	flush        func()
	micro        *MicroBuffer
	started      bool
	stopped      bool
	current      segmentKind
	currentID    string
	index        int
	textBytes    int
	toolBytes    map[string]int
	sawToolCall  bool
	contentExceeded bool
	lastActivity time.Time
	messageID    string

	cancel       func()
	writeErrOnce sync.Once
}

// NewAnthropicEncoder creates an encoder writing SSE frames to w, flushing
// via flush after each write (typically http.Flusher.Flush).
func NewAnthropicEncoder(w io.Writer, flush func(), messageID string) *AnthropicEncoder {
	e := &AnthropicEncoder{
		w:            w,
		flush:        flush,
		toolBytes:    make(map[string]int),
		lastActivity: time.Now(),
		messageID:    messageID,
	}
	e.micro = NewMicroBuffer(e.writeDeltaFrame)
	return e
}

// SetCancelFunc arms the write-failure watchdog: the first failed write to
// the client schedules cancel within config.WriteFailureCancelWindow, so a
// disconnected client doesn't leave the decoder running against upstream
// indefinitely (spec.md §5/§9).
func (e *AnthropicEncoder) SetCancelFunc(cancel func()) {
	e.cancel = cancel
}

// LastActivity reports when the encoder last observed an event, for a
// caller-driven keep-alive/abandon watchdog.
func (e *AnthropicEncoder) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

// Ping writes a keep-alive comment line (spec.md: "Emit a keep-alive ping at
// 25s inactivity").
func (e *AnthropicEncoder) Ping() {
	e.writeRaw(": ping\n\n")
}

func (e *AnthropicEncoder) touch() {
	e.lastActivity = time.Now()
}

// Start writes message_start. Must be called once before any delta.
func (e *AnthropicEncoder) Start(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.touch()
	e.writeEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      e.messageID,
			"type":    "message",
			"role":    "assistant",
			"model":   model,
			"content": []any{},
		},
	})
}

func (e *AnthropicEncoder) OnTextDelta(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	e.ensureSegment(segmentText, "")
	// Text beyond the cap is still flushed through to the client; only the
	// accounting counter saturates (spec.md: "further bytes are flushed
	// through without being retained").
	if e.textBytes < config.MaxResponseTextBytes {
		e.textBytes += len(text)
	}
	e.micro.Write(encodeDeltaJSON(e.index, "text_delta", text, nil))
}

func (e *AnthropicEncoder) OnThinkingDelta(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	e.ensureSegment(segmentThinking, "")
	e.micro.Write(encodeDeltaJSON(e.index, "thinking_delta", text, nil))
}

func (e *AnthropicEncoder) OnToolStart(id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	e.closeCurrentSegment()
	e.index++
	e.current = segmentTool
	e.currentID = id
	e.sawToolCall = true
	e.writeEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": e.index,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    id,
			"name":  name,
			"input": map[string]any{},
		},
	})
}

func (e *AnthropicEncoder) OnToolDelta(id string, fragment json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	if e.current != segmentTool || e.currentID != id {
		return
	}
	if e.toolBytes[id] < config.ToolBufferCap {
		e.toolBytes[id] += len(fragment)
	}
	e.micro.Write(encodeDeltaJSON(e.index, "input_json_delta", "", fragment))
}

func (e *AnthropicEncoder) OnToolStop(id string, input json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	if e.current == segmentTool && e.currentID == id {
		e.closeCurrentSegment()
	}
}

func (e *AnthropicEncoder) OnUsage(u translator.Usage)       {}
func (e *AnthropicEncoder) OnMetering(credits float64)       {}
func (e *AnthropicEncoder) OnContextWindowExceeded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contentExceeded = true
}

// OnComplete writes the closing content_block_stop (if needed),
// message_delta, and message_stop exactly once (spec.md).
func (e *AnthropicEncoder) OnComplete(u translator.Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.closeCurrentSegment()

	stopReason := "end_turn"
	if e.contentExceeded {
		stopReason = "max_tokens"
	} else if e.sawToolCall {
		stopReason = "tool_use"
	}

	e.writeEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"input_tokens":                u.InputTokens,
			"output_tokens":               u.OutputTokens,
			"cache_read_input_tokens":     u.CacheReadTokens,
			"cache_creation_input_tokens": u.CacheCreationTokens,
		},
	})
	e.writeEvent("message_stop", map[string]any{"type": "message_stop"})
	e.stopped = true
}

func (e *AnthropicEncoder) OnError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.closeCurrentSegment()
	e.writeEvent("error", map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "api_error",
			"message": err.Error(),
		},
	})
	e.stopped = true
}

func (e *AnthropicEncoder) ensureSegment(kind segmentKind, id string) {
	if e.current == kind && (kind != segmentTool || e.currentID == id) {
		return
	}
	e.closeCurrentSegment()
	e.index++
	e.current = kind
	e.currentID = id

	blockType := "text"
	if kind == segmentThinking {
		blockType = "thinking"
	}
	e.writeEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": e.index,
		"content_block": map[string]any{
			"type": blockType,
		},
	})
}

func (e *AnthropicEncoder) closeCurrentSegment() {
	if e.current == segmentNone {
		return
	}
	e.micro.Flush()
	e.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": e.index,
	})
	e.current = segmentNone
	e.currentID = ""
}

func encodeDeltaJSON(index int, deltaType, text string, fragment json.RawMessage) []byte {
	delta := map[string]any{"type": deltaType}
	switch deltaType {
	case "text_delta":
		delta["text"] = text
	case "thinking_delta":
		delta["thinking"] = text
	case "input_json_delta":
		delta["partial_json"] = string(fragment)
	}
	payload := map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	}
	b, _ := json.Marshal(payload)
	return b
}

func (e *AnthropicEncoder) writeDeltaFrame(b []byte) {
	e.writeRaw(fmt.Sprintf("event: content_block_delta\ndata: %s\n\n", b))
}

func (e *AnthropicEncoder) writeEvent(eventType string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	e.writeRaw(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, b))
}

func (e *AnthropicEncoder) writeRaw(s string) {
	var buf bytes.Buffer
	buf.WriteString(s)
	_, err := e.w.Write(buf.Bytes())
	if err != nil && e.cancel != nil {
		e.writeErrOnce.Do(func() {
			time.AfterFunc(config.WriteFailureCancelWindow, e.cancel)
		})
	}
	if e.flush != nil {
		e.flush()
	}
}
