package upstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/translator"
)

type fakeSink struct {
	text       []string
	thinking   []string
	toolStarts []string
	toolStops  map[string]json.RawMessage
	usage      translator.Usage
	completed  bool
	errored    error
	contextExceeded bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{toolStops: map[string]json.RawMessage{}}
}

func (f *fakeSink) OnTextDelta(text string)     { f.text = append(f.text, text) }
func (f *fakeSink) OnThinkingDelta(text string) { f.thinking = append(f.thinking, text) }
func (f *fakeSink) OnToolStart(id, name string) { f.toolStarts = append(f.toolStarts, id) }
func (f *fakeSink) OnToolDelta(id string, fragment json.RawMessage) {}
func (f *fakeSink) OnToolStop(id string, input json.RawMessage)     { f.toolStops[id] = input }
func (f *fakeSink) OnUsage(u translator.Usage)                      { f.usage = u }
func (f *fakeSink) OnMetering(credits float64)                      {}
func (f *fakeSink) OnContextWindowExceeded()                        { f.contextExceeded = true }
func (f *fakeSink) OnComplete(u translator.Usage)                   { f.completed = true; f.usage = u }
func (f *fakeSink) OnError(err error)                                { f.errored = err }

func TestDecoderHandlesAssistantResponseEvent(t *testing.T) {
	d := NewDecoder(false, "claude-vendor")
	sink := newFakeSink()

	err := d.dispatch(Frame{
		Headers: map[string]string{":event-type": "assistantResponseEvent"},
		Payload: []byte(`{"content":"hello world"}`),
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, sink.text)
}

func TestDecoderToolUseLifecycleEmitsStartDeltaStop(t *testing.T) {
	d := NewDecoder(false, "claude-vendor")
	sink := newFakeSink()

	require.NoError(t, d.dispatch(Frame{
		Headers: map[string]string{":event-type": "toolUseEvent"},
		Payload: []byte(`{"toolUseId":"tu1","name":"search","input":"{\"q\":\"go\""}`),
	}, sink))
	require.NoError(t, d.dispatch(Frame{
		Headers: map[string]string{":event-type": "toolUseEvent"},
		Payload: []byte(`{"toolUseId":"tu1","input":"}","stop":true}`),
	}, sink))

	assert.Equal(t, []string{"tu1"}, sink.toolStarts)
	input, ok := sink.toolStops["tu1"]
	require.True(t, ok)
	var v map[string]any
	require.NoError(t, json.Unmarshal(input, &v))
	assert.Equal(t, "go", v["q"])
}

func TestDecoderNeverEmitsSameToolUseTwice(t *testing.T) {
	d := NewDecoder(false, "claude-vendor")
	sink := newFakeSink()

	for i := 0; i < 2; i++ {
		require.NoError(t, d.dispatch(Frame{
			Headers: map[string]string{":event-type": "toolUseEvent"},
			Payload: []byte(`{"toolUseId":"tu1","name":"search","input":"{}","stop":true}`),
		}, sink))
	}

	assert.Len(t, sink.toolStops, 1)
}

func TestDecoderDerivesInputTokensFromSubtraction(t *testing.T) {
	d := NewDecoder(false, "claude-vendor")
	sink := newFakeSink()

	require.NoError(t, d.dispatch(Frame{
		Headers: map[string]string{":event-type": "messageMetadataEvent"},
		Payload: []byte(`{"usage":{"totalTokens":100,"outputTokens":40}}`),
	}, sink))

	assert.Equal(t, 60, sink.usage.InputTokens)
	assert.Equal(t, 40, sink.usage.OutputTokens)
}

func TestDecoderContextUsageAtFullSetsExceeded(t *testing.T) {
	d := NewDecoder(false, "claude-vendor")
	sink := newFakeSink()

	require.NoError(t, d.dispatch(Frame{
		Headers: map[string]string{":event-type": "contextUsageEvent"},
		Payload: []byte(`{"percentage":100}`),
	}, sink))

	assert.True(t, sink.contextExceeded)
}

func TestDecoderContentLengthExceededEmitsSyntheticToolUse(t *testing.T) {
	d := NewDecoder(false, "claude-vendor")
	sink := newFakeSink()

	require.NoError(t, d.dispatch(Frame{
		Headers: map[string]string{":event-type": "exceptionEvent"},
		Payload: []byte(`{"type":"ContentLengthExceededException","message":"too long"}`),
	}, sink))

	_, ok := sink.toolStops[contentLengthExceededToolID]
	assert.True(t, ok)
}
