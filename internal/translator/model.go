package translator

import "strings"

// modelAliases maps OpenAI-dialect model names (and common misspellings) to
// the upstream's supported Claude model ids (spec.md §6 "Supported model
// names"). Grounded on the teacher's sanitizeModelName (internal/gateway/
// handler.go), generalized from a provider-prefix strip into a full alias
// table.
var modelAliases = map[string]string{
	"gpt-4":          "claude-sonnet-4-5",
	"gpt-4o":         "claude-sonnet-4-5",
	"gpt-4-turbo":    "claude-sonnet-4-5",
	"gpt-4.1":        "claude-sonnet-4-5",
	"gpt-4o-mini":    "claude-haiku-4-5",
	"gpt-5":          "claude-opus-4-5",
	"gpt-5-mini":     "claude-sonnet-4-5",
	"o1":             "claude-opus-4-5",
	"o1-mini":        "claude-sonnet-4-5",
	"o3":             "claude-opus-4-5",
	"o3-mini":        "claude-sonnet-4-5",
}

var supportedModels = map[string]bool{
	"claude-opus-4-5":            true,
	"claude-sonnet-4-5":          true,
	"claude-sonnet-4":            true,
	"claude-haiku-4-5":           true,
	"claude-3-7-sonnet-20250219": true,
}

// NormalizeModel implements the model-name normalization rule (spec.md §6):
// lowercase, strip a leading "anthropic/" prefix, strip a trailing date
// suffix, and fold a dotted "-N.M" version tail back to the canonical
// "-N-M" form the supported-model table uses. A name that matches a known
// OpenAI-dialect alias, before or after the fold, resolves to its Claude
// equivalent.
func NormalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	m = strings.TrimPrefix(m, "anthropic/")
	m = stripDateSuffix(m)
	if alias, ok := modelAliases[m]; ok {
		return alias
	}
	m = foldVersionTail(m)

	if alias, ok := modelAliases[m]; ok {
		return alias
	}
	return m
}

// IsSupportedModel reports whether model (already normalized) is one of the
// upstream's known Claude model ids.
func IsSupportedModel(model string) bool {
	return supportedModels[model]
}

func stripDateSuffix(m string) string {
	parts := strings.Split(m, "-")
	if len(parts) == 0 {
		return m
	}
	last := parts[len(parts)-1]
	if len(last) == 8 && isAllDigits(last) {
		return strings.Join(parts[:len(parts)-1], "-")
	}
	return m
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// foldVersionTail rewrites a dotted version tail ("claude-sonnet-4.5") back
// into the dashed form the supported-model table uses ("claude-sonnet-4-5").
func foldVersionTail(m string) string {
	if i := strings.LastIndex(m, "."); i > 0 {
		before, after := m[:i], m[i+1:]
		if lastNumeric(before) && isAllDigits(after) {
			return before + "-" + after
		}
	}
	return m
}

func lastNumeric(s string) bool {
	i := strings.LastIndexByte(s, '-')
	tail := s
	if i >= 0 {
		tail = s[i+1:]
	}
	return isAllDigits(tail)
}
