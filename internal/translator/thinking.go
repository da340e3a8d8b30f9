package translator

import (
	"fmt"
	"strings"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// ThinkingRequest carries the inputs needed to derive thinking mode and
// budget (spec.md §4.2 "Thinking/reasoning lifting").
type ThinkingRequest struct {
	Model                string
	ReasoningEffort      string // OpenAI reasoning_effort: low|medium|high
	ReasoningMaxTokens   int    // OpenAI reasoning.max_tokens
	AnthropicThinking    string // "" | "enabled" | "adaptive" | "disabled"
	AnthropicBudget      int    // Anthropic thinking.budget_tokens
	CallerOverrideEnable bool
}

// DeriveThinking implements the budget/mode derivation rules verbatim.
func DeriveThinking(req ThinkingRequest) (mode ThinkingMode, budget int) {
	enabled := strings.Contains(strings.ToLower(req.Model), "thinking") ||
		req.ReasoningEffort != "" || req.ReasoningMaxTokens > 0 ||
		req.AnthropicThinking == "enabled" || req.AnthropicThinking == "adaptive" ||
		req.CallerOverrideEnable

	if !enabled {
		return ThinkingDisabled, 0
	}

	if req.AnthropicThinking == "adaptive" {
		mode = ThinkingAdaptive
	} else {
		mode = ThinkingEnabled
	}

	switch {
	case req.AnthropicBudget > 0:
		budget = req.AnthropicBudget
	case req.ReasoningMaxTokens > 0:
		budget = req.ReasoningMaxTokens
	case req.ReasoningEffort != "":
		budget = effortBudget(req.ReasoningEffort)
	default:
		budget = config.DefaultThinkingBudgetTokens
	}

	if budget > config.DefaultThinkingBudgetTokens {
		budget = config.DefaultThinkingBudgetTokens
	}
	return mode, budget
}

func effortBudget(effort string) int {
	switch strings.ToLower(effort) {
	case "low":
		return 1280
	case "medium":
		return 2048
	case "high":
		return 4096
	default:
		return config.DefaultThinkingBudgetTokens
	}
}

// ThinkingTagBlock renders the synthetic tag block prepended to the current
// user text (spec.md: "<thinking_mode>...</thinking_mode>\n<max_thinking_length>N</max_thinking_length>").
func ThinkingTagBlock(mode ThinkingMode, budget int) string {
	if mode == ThinkingDisabled {
		return ""
	}
	if mode == ThinkingAdaptive {
		return fmt.Sprintf("<thinking_mode>adaptive</thinking_mode>\n<thinking_effort>%d</thinking_effort>\n", budget)
	}
	return fmt.Sprintf("<thinking_mode>enabled</thinking_mode>\n<max_thinking_length>%d</max_thinking_length>\n", budget)
}

// CurrentTimeBlock renders the synthetic "Current time: <ISO-UTC>" prefix.
func CurrentTimeBlock(now time.Time) string {
	return fmt.Sprintf("Current time: %s\n", now.UTC().Format(time.RFC3339))
}

const toolSizeLimitAdvisory = "Tool output is size-limited; keep responses within the declared schema.\n"

// ToolSizeAdvisoryBlock is prepended to the current user text whenever any
// tool is declared (spec.md §4.2).
func ToolSizeAdvisoryBlock(anyToolDeclared bool) string {
	if !anyToolDeclared {
		return ""
	}
	return toolSizeLimitAdvisory
}
