package compressor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/store"
	"github.com/vendorgate/gateway/internal/translator"
)

type fakeCaller struct {
	calls int32
	delay time.Duration
	fail  bool
}

func (f *fakeCaller) Summarize(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return "", fmt.Errorf("upstream unavailable")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return "summary of: " + truncateChars(userPrompt, 40), nil
}

type fakeMetricsSink struct {
	hits, misses int32
	compressions int32
}

func (f *fakeMetricsSink) RecordCacheHit()  { atomic.AddInt32(&f.hits, 1) }
func (f *fakeMetricsSink) RecordCacheMiss() { atomic.AddInt32(&f.misses, 1) }
func (f *fakeMetricsSink) RecordCompression(int, int, bool) {
	atomic.AddInt32(&f.compressions, 1)
}

func userTurn(text string) translator.Turn {
	return translator.Turn{Role: translator.RoleUser, Text: text}
}

func assistantTurn(text string) translator.Turn {
	return translator.Turn{Role: translator.RoleAssistant, Text: text}
}

func TestShouldTriggerOnMessageCount(t *testing.T) {
	s := DefaultSettings()
	s.MaxMessages = 5
	history := make([]translator.Turn, 6)
	assert.True(t, ShouldTrigger(s, history, "gpt-4.1"))
}

func TestShouldTriggerRespectsDisabled(t *testing.T) {
	s := DefaultSettings()
	s.Enabled = false
	history := make([]translator.Turn, 1000)
	assert.False(t, ShouldTrigger(s, history, "gpt-4.1"))
}

func TestSelectBoundaryCutsAfterMatchingToolResult(t *testing.T) {
	history := []translator.Turn{
		userTurn("hi"),
		{Role: translator.RoleAssistant, ToolUses: []translator.ToolUse{{ID: "t1", Name: "search"}}},
		{Role: translator.RoleUser, ToolResults: []translator.ToolResult{{ToolUseID: "t1", Content: "result"}}},
		userTurn("continue"),
		assistantTurn("ok"),
	}

	boundary := SelectBoundary(history, 1, 0)
	require.GreaterOrEqual(t, boundary, 3)
	// boundary must not land between the tool_use turn and its tool_result turn
	assert.NotEqual(t, 2, boundary)
}

func TestSplitBatchesRespectsMessageAndCharCaps(t *testing.T) {
	var turns []translator.Turn
	for i := 0; i < 20; i++ {
		turns = append(turns, userTurn("message"))
	}
	batches := splitBatches(turns, 8, 1000000)
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 8)
	}
}

func TestSplitBatchesNeverSplitsToolPair(t *testing.T) {
	turns := []translator.Turn{
		{Role: translator.RoleAssistant, ToolUses: []translator.ToolUse{{ID: "t1", Name: "x"}}},
		{Role: translator.RoleUser, ToolResults: []translator.ToolResult{{ToolUseID: "t1", Content: "y"}}},
	}
	batches := splitBatches(turns, 1, 100000)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestMineArtifactsTagsVerb(t *testing.T) {
	turns := []translator.Turn{userTurn("I created internal/foo/bar.go and then modified internal/baz.go")}
	artifacts := mineArtifacts(turns)
	assert.Contains(t, artifacts, "created internal/foo/bar.go")
}

func TestMineDecisionsDedupsAndCaps(t *testing.T) {
	turns := []translator.Turn{
		assistantTurn("We decided to use sqlite for storage."),
		assistantTurn("We decided to use sqlite for storage."),
		assistantTurn("I chose to retry on 5xx."),
	}
	decisions := mineDecisions(turns)
	assert.Len(t, decisions, 2)
}

func TestMineBreadcrumbsReturnsLastSix(t *testing.T) {
	var turns []translator.Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, userTurn(fmt.Sprintf("msg-%d", i)))
	}
	crumbs := mineBreadcrumbs(turns)
	assert.Len(t, crumbs, 6)
	assert.Contains(t, crumbs[len(crumbs)-1], "msg-9")
}

func TestCacheKeyIsStableAndConversationScoped(t *testing.T) {
	turns := []translator.Turn{userTurn("hello world")}
	k1 := CacheKey("conv-a", turns)
	k2 := CacheKey("conv-a", turns)
	k3 := CacheKey("conv-b", turns)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestCacheRoundTripsThroughL2AndL3(t *testing.T) {
	mem := store.NewMemoryStore()
	c := NewCache(mem)

	c.Put("key1", "the summary")

	// Fresh cache sharing the same L3 backend should find it via L3 and
	// promote it up through L2/L1.
	c2 := NewCache(mem)
	summary, ok := c2.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "the summary", summary)
}

func TestCacheL3EntryExpiresAfterTTL(t *testing.T) {
	mem := store.NewMemoryStore()
	rec := cacheRecord{Summary: "stale", Timestamp: time.Now().Add(-time.Hour)}
	raw, _ := json.Marshal(rec)
	_ = mem.Set(store.NSStats+"compressor/old-key", raw)

	c := NewCache(mem)
	_, ok := c.Get("old-key")
	assert.False(t, ok)
}

func TestCompressFallsBackToTruncationOnFailure(t *testing.T) {
	caller := &fakeCaller{fail: true}
	c := New(caller, NewCache(store.NewMemoryStore()), nil)

	var history []translator.Turn
	for i := 0; i < 50; i++ {
		history = append(history, userTurn(fmt.Sprintf("m%d", i)))
	}

	result := c.Compress(context.Background(), "conv-x", history, "gpt-4.1", 10)
	assert.Len(t, result, 10)
}

func TestCompressProducesSyntheticSummaryMessages(t *testing.T) {
	caller := &fakeCaller{}
	c := New(caller, NewCache(store.NewMemoryStore()), nil)

	var history []translator.Turn
	for i := 0; i < 50; i++ {
		history = append(history, userTurn(fmt.Sprintf("m%d", i)))
	}

	result := c.Compress(context.Background(), "conv-y", history, "gpt-4.1", 10)
	require.GreaterOrEqual(t, len(result), 2)
	assert.Contains(t, result[0].Text, "[Previous conversation summary]")
	assert.Equal(t, translator.RoleAssistant, result[1].Role)
}

func TestCompressSecondCallRecordsCacheHit(t *testing.T) {
	caller := &fakeCaller{}
	metrics := &fakeMetricsSink{}
	c := New(caller, NewCache(store.NewMemoryStore()), metrics)

	var history []translator.Turn
	for i := 0; i < 50; i++ {
		history = append(history, userTurn(fmt.Sprintf("m%d", i)))
	}

	first := c.Compress(context.Background(), "conv-cache", history, "gpt-4.1", 10)
	callsAfterFirst := atomic.LoadInt32(&caller.calls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&metrics.misses))

	second := c.Compress(context.Background(), "conv-cache", history, "gpt-4.1", 10)

	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, atomic.LoadInt32(&caller.calls), "cached result must not call upstream again")
	assert.Equal(t, int32(1), atomic.LoadInt32(&metrics.hits))
}

func TestCompressSingleFlightDedupesConcurrentCalls(t *testing.T) {
	caller := &fakeCaller{delay: 20 * time.Millisecond}
	c := New(caller, NewCache(store.NewMemoryStore()), nil)

	var history []translator.Turn
	for i := 0; i < 50; i++ {
		history = append(history, userTurn(fmt.Sprintf("m%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Compress(context.Background(), "conv-z", history, "gpt-4.1", 10)
		}()
	}
	wg.Wait()

	// Each batch call within the chain happens once per Compress; with
	// single-flight, five concurrent Compress calls for the same
	// conversation+prefix should not multiply the number of upstream calls
	// by 5.
	assert.Less(t, int(caller.calls), 5*len(splitBatches(history[:40], 8, 40000)))
}
