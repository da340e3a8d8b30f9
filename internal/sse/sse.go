package sse

import "github.com/vendorgate/gateway/internal/upstream"

var (
	_ upstream.Sink = (*AnthropicEncoder)(nil)
	_ upstream.Sink = (*OpenAIEncoder)(nil)
)
