package compressor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/translator"
)

const defaultSystemPrompt = "Summarize the following conversation excerpt concisely, preserving decisions, open threads, and file/tool activity. Be terse."

// splitBatches splits turns into batches of at most maxMessages turns and
// maxChars characters, never splitting a tool-use/tool-result pair across a
// batch boundary (spec.md §4.6 "Batching").
func splitBatches(turns []translator.Turn, maxMessages, maxChars int) [][]translator.Turn {
	var batches [][]translator.Turn
	var current []translator.Turn
	currentChars := 0
	openToolUse := false

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
	}

	for _, t := range turns {
		turnChars := len(t.Text)
		for _, tr := range t.ToolResults {
			turnChars += len(tr.Content)
		}

		wouldOverflow := !openToolUse && len(current) > 0 &&
			(len(current) >= maxMessages || currentChars+turnChars > maxChars)
		if wouldOverflow {
			flush()
		}

		current = append(current, t)
		currentChars += turnChars

		if len(t.ToolUses) > 0 {
			openToolUse = true
		}
		if len(t.ToolResults) > 0 {
			openToolUse = false
		}
	}
	flush()

	return batches
}

// summarizeBatches runs splitBatches over toCompress and chains them through
// the caller: each batch's prompt includes the previous batch's summary as
// context (spec.md §4.6 "chaining"). A global semaphore sized
// MaxBatchConcurrency bounds how many batch calls may be in flight at once
// across all conversations being compressed concurrently; because each
// batch in a single chain depends on the previous one's output, the cap
// only ever throttles cross-conversation concurrency, never parallelizes
// one conversation's chain.
func (c *Compressor) summarizeBatches(ctx context.Context, toCompress []translator.Turn, model string) (string, error) {
	batches := splitBatches(toCompress, config.MaxBatchMessages, config.MaxBatchChars)
	if len(batches) == 0 {
		return "", nil
	}

	var chainSummary string
	for i, batch := range batches {
		formatted := formatBatch(batch)
		prompt := formatted
		if chainSummary != "" {
			prompt = fmt.Sprintf("Prior summary so far:\n%s\n\nContinue summarizing the next excerpt:\n%s", chainSummary, formatted)
		}

		targetTokens := config.SummaryMaxTokens
		if byLen := int(float64(len(formatted)) * config.SummaryTargetRatio / 4); byLen > 0 && byLen < targetTokens {
			targetTokens = byLen
		}

		summary, err := c.callBatch(ctx, prompt, targetTokens)
		if err != nil {
			summary = truncateFallback(formatted)
		}
		if i == 0 {
			chainSummary = summary
		} else {
			chainSummary = chainSummary + "\n" + summary
		}
	}

	return chainSummary, nil
}

func (c *Compressor) callBatch(ctx context.Context, prompt string, maxTokens int) (string, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	if c.caller == nil {
		return "", fmt.Errorf("compressor: no LLM caller configured")
	}
	return c.caller.Summarize(ctx, defaultSystemPrompt, prompt, maxTokens)
}

func formatBatch(batch []translator.Turn) string {
	var b strings.Builder
	for _, t := range batch {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		for _, tu := range t.ToolUses {
			fmt.Fprintf(&b, "\n[tool_use %s(%s)]", tu.Name, tu.ID)
		}
		for _, tr := range t.ToolResults {
			fmt.Fprintf(&b, "\n[tool_result %s]: %s", tr.ToolUseID, truncateChars(tr.Content, 500))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// truncateFallback is the raw-text fallback used when a batch summary call
// fails (spec.md §4.6 "If a batch fails, use a truncated raw-text
// fallback").
func truncateFallback(formatted string) string {
	return truncateChars(formatted, int(float64(len(formatted))*config.SummaryTargetRatio))
}

func truncateChars(s string, n int) string {
	if n <= 0 {
		n = 1
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
