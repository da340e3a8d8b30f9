package gateway

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vendorgate/gateway/internal/translator"
)

// collector implements upstream.Sink for the non-streaming response path,
// accumulating decoder callbacks into a single translator.Response instead
// of emitting SSE frames (spec.md §4.4's Sink contract has exactly two
// consumers in the teacher's shape: the two SSE encoders; this is the
// gateway's own third consumer for `"stream": false`).
type collector struct {
	mu       sync.Mutex
	id       string
	text     strings.Builder
	thinking strings.Builder
	toolsOrd []string
	tools    map[string]*translator.ToolUse
	usage    translator.Usage
	stop     translator.StopReason
	err      error
}

func newCollector() *collector {
	return &collector{
		id:    uuid.NewString(),
		tools: make(map[string]*translator.ToolUse),
		stop:  translator.StopEndTurn,
	}
}

func (c *collector) OnTextDelta(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text.WriteString(text)
}

func (c *collector) OnThinkingDelta(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinking.WriteString(text)
}

func (c *collector) OnToolStart(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[id]; ok {
		return
	}
	c.tools[id] = &translator.ToolUse{ID: id, Name: name}
	c.toolsOrd = append(c.toolsOrd, id)
}

func (c *collector) OnToolDelta(id string, inputFragment json.RawMessage) {}

func (c *collector) OnToolStop(id string, input json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tools[id]
	if !ok {
		t = &translator.ToolUse{ID: id}
		c.tools[id] = t
		c.toolsOrd = append(c.toolsOrd, id)
	}
	t.Input = input
	c.stop = translator.StopToolUse
}

func (c *collector) OnUsage(u translator.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = u
}

func (c *collector) OnMetering(credits float64) {}

func (c *collector) OnContextWindowExceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = translator.StopContentLengthExceed
}

func (c *collector) OnComplete(u translator.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = u
}

func (c *collector) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *collector) response() translator.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := translator.Response{
		ID:         c.id,
		Text:       c.text.String(),
		Thinking:   c.thinking.String(),
		StopReason: c.stop,
		Usage:      c.usage,
	}
	for _, id := range c.toolsOrd {
		resp.ToolUses = append(resp.ToolUses, *c.tools[id])
	}
	return resp
}
