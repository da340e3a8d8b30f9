package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/thinkingparser"
	"github.com/vendorgate/gateway/internal/tokencount"
	"github.com/vendorgate/gateway/internal/translator"
)

// contentLengthExceededToolID is the synthetic tool-use id the decoder
// emits for ContentLengthExceededException, letting the SSE layer translate
// it into a max_tokens/length stop reason without special-casing errors
// (spec.md §4.3).
const contentLengthExceededToolID = "__content_length_exceeded__"

// Decoder turns a binary event-stream body into Sink callbacks.
type Decoder struct {
	frames       *FrameReader
	thinking     *thinkingparser.Parser
	tools        *toolBufferSet
	usage        translator.Usage
	credits      float64
	thinkOn      bool
	model        string
	emittedText  strings.Builder
}

// NewDecoder creates a Decoder. thinkingEnabled gates whether
// reasoningContentEvent deltas are surfaced (spec.md: "emit thinking delta
// when thinking is enabled"); model is used only for the output-token
// estimate fallback.
func NewDecoder(thinkingEnabled bool, model string) *Decoder {
	return &Decoder{
		frames:   NewFrameReader(),
		thinking: thinkingparser.New(),
		tools:    newToolBufferSet(),
		thinkOn:  thinkingEnabled,
		model:    model,
	}
}

// Run reads body until EOF or ctx cancellation, decoding frames and
// dispatching to sink. It fires OnComplete exactly once on clean end-of-
// stream, or OnError exactly once on failure, per the completion contract.
func (d *Decoder) Run(ctx context.Context, body io.Reader, sink Sink) error {
	buf := make([]byte, 32*1024)
	lastPrune := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			sink.OnError(err)
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			d.frames.Feed(buf[:n])
			if err := d.drainFrames(sink); err != nil {
				sink.OnError(err)
				return err
			}
		}

		if time.Since(lastPrune) > 10*time.Second {
			d.tools.pruneStale(time.Now())
			lastPrune = time.Now()
		}

		if readErr == io.EOF {
			d.flushAtEOF(sink)
			sink.OnComplete(d.usage)
			return nil
		}
		if readErr != nil {
			sink.OnError(readErr)
			return readErr
		}
	}
}

func (d *Decoder) drainFrames(sink Sink) error {
	for {
		frame, ok, err := d.frames.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := d.dispatch(frame, sink); err != nil {
			return err
		}
	}
}

func (d *Decoder) flushAtEOF(sink Sink) {
	for _, b := range d.tools.remaining() {
		b.emittedEnd = true
		sink.OnToolStop(b.id, b.resolveInput())
	}
	for _, delta := range d.thinking.Flush() {
		if delta.Thinking {
			sink.OnThinkingDelta(delta.Text)
		} else {
			sink.OnTextDelta(delta.Text)
			d.emittedText.WriteString(delta.Text)
		}
	}
	if d.usage.OutputTokens == 0 && d.emittedText.Len() > 0 {
		d.usage.OutputTokens = tokencount.Count(d.emittedText.String(), d.model)
	}
}

func (d *Decoder) dispatch(frame Frame, sink Sink) error {
	switch frame.EventType() {
	case "assistantResponseEvent":
		return d.handleAssistantResponse(frame.Payload, sink)
	case "toolUseEvent":
		return d.handleToolUse(frame.Payload, sink)
	case "messageMetadataEvent", "metadataEvent":
		return d.handleMetadata(frame.Payload, sink)
	case "meteringEvent":
		return d.handleMetering(frame.Payload, sink)
	case "contextUsageEvent":
		return d.handleContextUsage(frame.Payload, sink)
	case "reasoningContentEvent":
		return d.handleReasoningContent(frame.Payload, sink)
	case "supplementaryWebLinksEvent":
		return d.handleWebLinks(frame.Payload, sink)
	case "exceptionEvent":
		return d.handleException(frame.Payload, sink)
	default:
		return nil
	}
}

func (d *Decoder) handleAssistantResponse(payload []byte, sink Sink) error {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding assistantResponseEvent: %w", err)
	}
	for _, delta := range d.thinking.Feed(body.Content) {
		if delta.Thinking {
			sink.OnThinkingDelta(delta.Text)
		} else {
			sink.OnTextDelta(delta.Text)
			d.emittedText.WriteString(delta.Text)
		}
	}
	return nil
}

func (d *Decoder) handleReasoningContent(payload []byte, sink Sink) error {
	if !d.thinkOn {
		return nil
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding reasoningContentEvent: %w", err)
	}
	if body.Content != "" {
		sink.OnThinkingDelta(body.Content)
	}
	return nil
}

func (d *Decoder) handleToolUse(payload []byte, sink Sink) error {
	var body struct {
		ToolUseID string          `json:"toolUseId"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
		Stop      bool            `json:"stop"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding toolUseEvent: %w", err)
	}

	buf := d.tools.get(body.ToolUseID)
	buf.lastTouch = time.Now()
	if !buf.started {
		buf.started = true
		if body.Name != "" {
			buf.name = body.Name
		}
		sink.OnToolStart(body.ToolUseID, buf.name)
	}
	if body.Name != "" {
		buf.name = body.Name
	}

	if len(body.Input) > 0 {
		appendToolInput(buf, body.Input)
		sink.OnToolDelta(body.ToolUseID, body.Input)
	}

	if body.Stop && !buf.emittedEnd {
		buf.emittedEnd = true
		sink.OnToolStop(body.ToolUseID, buf.resolveInput())
	}
	return nil
}

func appendToolInput(buf *toolBuffer, input json.RawMessage) {
	var asString string
	if err := json.Unmarshal(input, &asString); err == nil {
		if buf.stringBuf.Len()+len(asString) <= config.ToolBufferCap {
			buf.stringBuf.WriteString(asString)
		}
		return
	}
	buf.objectVal = input
}

func (d *Decoder) handleMetadata(payload []byte, sink Sink) error {
	var body struct {
		Usage struct {
			UncachedInputTokens  int `json:"uncachedInputTokens"`
			CacheReadInputTokens int `json:"cacheReadInputTokens"`
			CacheWriteInputTokens int `json:"cacheWriteInputTokens"`
			OutputTokens         int `json:"outputTokens"`
			TotalTokens          int `json:"totalTokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding metadata event: %w", err)
	}

	u := body.Usage
	input := u.UncachedInputTokens + u.CacheReadInputTokens + u.CacheWriteInputTokens
	if input == 0 && u.TotalTokens > 0 {
		input = u.TotalTokens - u.OutputTokens
	}

	d.usage.InputTokens = input
	d.usage.OutputTokens = u.OutputTokens
	d.usage.CacheReadTokens = u.CacheReadInputTokens
	d.usage.CacheCreationTokens = u.CacheWriteInputTokens

	sink.OnUsage(d.usage)
	return nil
}

func (d *Decoder) handleMetering(payload []byte, sink Sink) error {
	var body struct {
		Credits float64 `json:"credits"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding meteringEvent: %w", err)
	}
	d.credits += body.Credits
	sink.OnMetering(d.credits)
	return nil
}

func (d *Decoder) handleContextUsage(payload []byte, sink Sink) error {
	var body struct {
		Percentage float64 `json:"percentage"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding contextUsageEvent: %w", err)
	}
	if body.Percentage >= 100 {
		sink.OnContextWindowExceeded()
	}
	return nil
}

func (d *Decoder) handleWebLinks(payload []byte, sink Sink) error {
	var body struct {
		Links []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"links"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding supplementaryWebLinksEvent: %w", err)
	}
	if len(body.Links) == 0 {
		return nil
	}
	var text string
	for _, l := range body.Links {
		text += fmt.Sprintf("- [%s](%s)\n", l.Title, l.URL)
	}
	sink.OnTextDelta(text)
	d.emittedText.WriteString(text)
	return nil
}

func (d *Decoder) handleException(payload []byte, sink Sink) error {
	var body struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decoding exceptionEvent: %w", err)
	}
	if body.Type == "ContentLengthExceededException" {
		sink.OnToolStart(contentLengthExceededToolID, contentLengthExceededToolID)
		sink.OnToolStop(contentLengthExceededToolID, json.RawMessage("{}"))
		return nil
	}
	return fmt.Errorf("upstream exception %s: %s", body.Type, body.Message)
}
