package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/translator"
)

// OpenAIEncoder drives the OpenAI chat-completions chunk dialect from
// decoder callbacks (spec.md §4.4 "OpenAI state machine").
type OpenAIEncoder struct {
	mu              sync.Mutex
	w               io.Writer
	flush           func()
	micro           *MicroBuffer
	roleSent        bool
	stopped         bool
	textBytes       int
	toolIndex       map[string]int
	toolOrder       []string
	sawToolCall     bool
	contentExceeded bool
	lastActivity    time.Time
	chunkID         string
	model           string

	cancel       func()
	writeErrOnce sync.Once
}

// NewOpenAIEncoder creates an encoder writing SSE chunks to w.
func NewOpenAIEncoder(w io.Writer, flush func(), chunkID, model string) *OpenAIEncoder {
	e := &OpenAIEncoder{
		w:            w,
		flush:        flush,
		toolIndex:    make(map[string]int),
		lastActivity: time.Now(),
		chunkID:      chunkID,
		model:        model,
	}
	e.micro = NewMicroBuffer(e.writeRawChunk)
	return e
}

// SetCancelFunc arms the write-failure watchdog: the first failed write to
// the client schedules cancel within config.WriteFailureCancelWindow, so a
// disconnected client doesn't leave the decoder running against upstream
// indefinitely (spec.md §5/§9).
func (e *OpenAIEncoder) SetCancelFunc(cancel func()) {
	e.cancel = cancel
}

func (e *OpenAIEncoder) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

func (e *OpenAIEncoder) Ping() {
	e.writeRaw(": ping\n\n")
}

func (e *OpenAIEncoder) touch() { e.lastActivity = time.Now() }

func (e *OpenAIEncoder) ensureRole() map[string]any {
	delta := map[string]any{}
	if !e.roleSent {
		delta["role"] = "assistant"
		e.roleSent = true
	}
	return delta
}

func (e *OpenAIEncoder) OnTextDelta(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	if e.textBytes < config.MaxResponseTextBytes {
		e.textBytes += len(text)
	}
	delta := e.ensureRole()
	delta["content"] = text
	e.micro.Write(e.encodeChunk(delta, ""))
}

func (e *OpenAIEncoder) OnThinkingDelta(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	delta := e.ensureRole()
	delta["reasoning_content"] = text
	e.micro.Write(e.encodeChunk(delta, ""))
}

func (e *OpenAIEncoder) OnToolStart(id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	e.sawToolCall = true
	idx, ok := e.toolIndex[id]
	if !ok {
		idx = len(e.toolOrder)
		e.toolIndex[id] = idx
		e.toolOrder = append(e.toolOrder, id)
	}
	delta := e.ensureRole()
	delta["tool_calls"] = []map[string]any{{
		"index": idx,
		"id":    id,
		"type":  "function",
		"function": map[string]any{
			"name":      name,
			"arguments": "",
		},
	}}
	e.micro.Write(e.encodeChunk(delta, ""))
}

func (e *OpenAIEncoder) OnToolDelta(id string, fragment json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touch()
	idx, ok := e.toolIndex[id]
	if !ok {
		return
	}
	var argStr string
	if err := json.Unmarshal(fragment, &argStr); err != nil {
		argStr = string(fragment)
	}
	delta := e.ensureRole()
	delta["tool_calls"] = []map[string]any{{
		"index": idx,
		"function": map[string]any{
			"arguments": argStr,
		},
	}}
	e.micro.Write(e.encodeChunk(delta, ""))
}

func (e *OpenAIEncoder) OnToolStop(id string, input json.RawMessage) {}

func (e *OpenAIEncoder) OnUsage(u translator.Usage) {}
func (e *OpenAIEncoder) OnMetering(credits float64) {}

func (e *OpenAIEncoder) OnContextWindowExceeded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contentExceeded = true
}

// OnComplete writes the final chunk with finish_reason and usage, then the
// literal `data: [DONE]` terminator exactly once.
func (e *OpenAIEncoder) OnComplete(u translator.Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.micro.Flush()

	finish := "stop"
	if e.contentExceeded {
		finish = "length"
	} else if e.sawToolCall {
		finish = "tool_calls"
	}

	payload := map[string]any{
		"id":      e.chunkID,
		"object":  "chat.completion.chunk",
		"model":   e.model,
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{}, "finish_reason": finish}},
		"usage": map[string]any{
			"prompt_tokens":     u.InputTokens,
			"completion_tokens": u.OutputTokens,
			"total_tokens":      u.InputTokens + u.OutputTokens,
			"prompt_tokens_details":     map[string]any{"cached_tokens": u.CacheReadTokens},
			"completion_tokens_details": map[string]any{"reasoning_tokens": u.ReasoningTokens},
		},
	}
	b, _ := json.Marshal(payload)
	e.writeRaw(fmt.Sprintf("data: %s\n\n", b))
	e.writeRaw("data: [DONE]\n\n")
	e.stopped = true
}

func (e *OpenAIEncoder) OnError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.micro.Flush()
	payload := map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "api_error",
		},
	}
	b, _ := json.Marshal(payload)
	e.writeRaw(fmt.Sprintf("data: %s\n\n", b))
	e.writeRaw("data: [DONE]\n\n")
	e.stopped = true
}

func (e *OpenAIEncoder) encodeChunk(delta map[string]any, finishReason string) []byte {
	choice := map[string]any{"index": 0, "delta": delta}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	} else {
		choice["finish_reason"] = nil
	}
	payload := map[string]any{
		"id":      e.chunkID,
		"object":  "chat.completion.chunk",
		"model":   e.model,
		"choices": []map[string]any{choice},
	}
	b, _ := json.Marshal(payload)
	return b
}

func (e *OpenAIEncoder) writeRawChunk(b []byte) {
	e.writeRaw(fmt.Sprintf("data: %s\n\n", b))
}

func (e *OpenAIEncoder) writeRaw(s string) {
	_, err := io.WriteString(e.w, s)
	if err != nil && e.cancel != nil {
		e.writeErrOnce.Do(func() {
			time.AfterFunc(config.WriteFailureCancelWindow, e.cancel)
		})
	}
	if e.flush != nil {
		e.flush()
	}
}
