// Package compressor implements the context compressor: it recursively
// summarizes the older portion of a long conversation via the upstream
// itself, backed by a three-tier cache, before the translator ever sees the
// request (spec.md §4.6). Grounded on the teacher's
// internal/preemptive/summarizer.go (batching, chaining, token-based cutoff)
// and internal/preemptive/detector.go (trigger conditions), generalized from
// "compress the whole prefix" into boundary selection + batched +
// structured-summary + three-tier-cache pipeline.
package compressor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/tokencount"
	"github.com/vendorgate/gateway/internal/translator"
)

// LLMCaller sends one summarization request through the upstream and
// returns the generated text. The gateway wires this to a non-streaming
// upstream call; the compressor itself knows nothing about credentials,
// endpoints, or the wire protocol.
type LLMCaller interface {
	Summarize(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// MetricsSink receives cache and compression telemetry, satisfied by
// *monitoring.MetricsCollector. A nil sink is valid; Compressor guards every
// call.
type MetricsSink interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCompression(originalTokens, savedTokens int, success bool)
}

// Settings are the operator-tunable knobs (spec.md §4.6, §9 ProxySettings).
type Settings struct {
	Enabled        bool
	AutoCompress   bool
	MaxMessages    int
	TokenThreshold int
	KeepCount      int
}

// DefaultSettings mirrors config.DefaultProxySettings's compressor fields.
func DefaultSettings() Settings {
	return Settings{
		Enabled:        true,
		AutoCompress:   true,
		MaxMessages:    config.DefaultMaxMessagesPerSession,
		TokenThreshold: config.DefaultTokenThreshold,
		KeepCount:      config.DefaultKeepCount,
	}
}

// Compressor orchestrates trigger evaluation, boundary selection, batched
// summarization, structured mining, and the three-tier cache.
type Compressor struct {
	caller  LLMCaller
	cache   *Cache
	sem     chan struct{}
	metrics MetricsSink

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done    chan struct{}
	result  []translator.Turn
	err     error
	started time.Time
}

// New creates a Compressor. cache may be nil to disable all three cache
// tiers; concurrent calls for the same prefix are then still deduplicated by
// the single-flight memo. metrics may be nil to disable telemetry.
func New(caller LLMCaller, cache *Cache, metrics MetricsSink) *Compressor {
	return &Compressor{
		caller:   caller,
		cache:    cache,
		metrics:  metrics,
		sem:      make(chan struct{}, config.MaxBatchConcurrency),
		inflight: make(map[string]*inflightCall),
	}
}

// ShouldTrigger reports whether history warrants compression (spec.md §4.6
// "Triggers when...").
func ShouldTrigger(s Settings, history []translator.Turn, model string) bool {
	if !s.Enabled || !s.AutoCompress {
		return false
	}
	if len(history) > s.MaxMessages {
		return true
	}
	total := 0
	for _, t := range history {
		total += tokencount.Count(t.Text, model)
	}
	return total > s.TokenThreshold
}

// Compress replaces the compressible prefix of history with a two-message
// synthetic summary, preserving the keepCount-or-more suffix verbatim. Any
// failure silently degrades to truncate(history, keepCount) (spec.md §4.6
// "Failure policy").
func (c *Compressor) Compress(ctx context.Context, conversationID string, history []translator.Turn, model string, keepCount int) []translator.Turn {
	boundary := SelectBoundary(history, keepCount, config.DefaultToolLookback)
	if boundary <= 0 {
		return history
	}

	toCompress := history[:boundary]
	kept := history[boundary:]

	key := CacheKey(conversationID, toCompress)

	result, err := c.compressWithSingleFlight(ctx, key, toCompress, model)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("compression failed, falling back to truncation")
		return truncate(history, keepCount)
	}

	return append(result, kept...)
}

func (c *Compressor) compressWithSingleFlight(ctx context.Context, key string, toCompress []translator.Turn, model string) ([]translator.Turn, error) {
	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok && time.Since(existing.started) < config.SingleFlightLockTTL {
		c.mu.Unlock()
		<-existing.done
		return existing.result, existing.err
	}
	call := &inflightCall{done: make(chan struct{}), started: time.Now()}
	c.inflight[key] = call
	c.mu.Unlock()

	result, err := c.compute(ctx, key, toCompress, model)

	call.result, call.err = result, err
	close(call.done)

	c.mu.Lock()
	if c.inflight[key] == call {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	return result, err
}

func (c *Compressor) compute(ctx context.Context, key string, toCompress []translator.Turn, model string) ([]translator.Turn, error) {
	if c.cache != nil {
		if summary, ok := c.cache.Get(key); ok {
			if c.metrics != nil {
				c.metrics.RecordCacheHit()
			}
			return synthesize(summary), nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
	}

	narrative, err := c.summarizeBatches(ctx, toCompress, model)
	if err != nil {
		return nil, err
	}
	structured := BuildStructuredSummary(toCompress)

	combined := narrative + "\n\n" + structured

	if c.cache != nil {
		c.cache.Put(key, combined)
	}

	if c.metrics != nil {
		original := 0
		for _, t := range toCompress {
			original += tokencount.Count(t.Text, model)
		}
		c.metrics.RecordCompression(original, original-tokencount.Count(combined, model), true)
	}

	return synthesize(combined), nil
}

func synthesize(summary string) []translator.Turn {
	return []translator.Turn{
		{Role: translator.RoleUser, Text: "[Previous conversation summary]\n" + summary},
		{Role: translator.RoleAssistant, Text: "I understand the context. Let me continue."},
	}
}

func truncate(history []translator.Turn, keepCount int) []translator.Turn {
	if keepCount <= 0 || keepCount >= len(history) {
		return history
	}
	return history[len(history)-keepCount:]
}

// SelectBoundary walks forward from max(0, len-keep-toolLookback) looking
// for a cut point that does not land inside an assistant-tool-use /
// user-tool-result pair, always cutting after the matching tool-result
// (spec.md §4.6 "Boundary selection").
func SelectBoundary(history []translator.Turn, keepCount, toolLookback int) int {
	n := len(history)
	if n == 0 {
		return 0
	}

	start := n - keepCount - toolLookback
	if start < 0 {
		start = 0
	}

	pendingToolUses := map[string]bool{}
	for i := 0; i < start; i++ {
		recordToolState(history[i], pendingToolUses)
	}

	for i := start; i < n; i++ {
		recordToolState(history[i], pendingToolUses)
		if len(pendingToolUses) == 0 {
			return i + 1
		}
	}

	return n
}

func recordToolState(t translator.Turn, pending map[string]bool) {
	for _, tu := range t.ToolUses {
		pending[tu.ID] = true
	}
	for _, tr := range t.ToolResults {
		delete(pending, tr.ToolUseID)
	}
}
