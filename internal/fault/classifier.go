package fault

import "strings"

// Category is one of the error classifier's buckets (spec.md §4.7).
type Category string

const (
	CategoryBanned         Category = "BANNED"
	CategoryQuota          Category = "QUOTA"
	CategoryAuth           Category = "AUTH"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryContentTooLong Category = "CONTENT_TOO_LONG"
	CategoryInvalidModel   Category = "INVALID_MODEL"
	CategoryClient         Category = "CLIENT"
	CategoryServer         Category = "SERVER"
	CategoryNetwork        Category = "NETWORK"
	CategoryUnknown        Category = "UNKNOWN"
)

// Disposition is the handling policy attached to a Category.
type Disposition struct {
	Retryable         bool
	RefreshToken      bool
	DisableCredential bool
	SuggestedDelayMs  int
}

var networkSubstrings = []string{
	"ECONNRESET", "ETIMEDOUT", "ENOTFOUND", "EAI_AGAIN", "EPIPE", "ECONNREFUSED",
	"fetch failed", "timeout", "aborted",
}

// Classify categorizes a failure by HTTP status code and message substring
// (spec.md: "Categorizes by (statusCode, message substring)").
func Classify(statusCode int, message string) Category {
	lower := strings.ToLower(message)

	for _, s := range networkSubstrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return CategoryNetwork
		}
	}

	switch statusCode {
	case 402:
		return CategoryQuota
	case 401, 403:
		if strings.Contains(lower, "ban") {
			return CategoryBanned
		}
		return CategoryAuth
	case 429:
		return CategoryRateLimit
	case 400:
		if strings.Contains(lower, "content length") || strings.Contains(lower, "context length") ||
			strings.Contains(lower, "too long") || strings.Contains(lower, "maximum context") {
			return CategoryContentTooLong
		}
		if strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "invalid")) {
			return CategoryInvalidModel
		}
		return CategoryClient
	}

	switch {
	case statusCode >= 400 && statusCode < 500:
		return CategoryClient
	case statusCode >= 500:
		return CategoryServer
	}

	return CategoryUnknown
}

// DispositionFor returns the handling policy for a category (spec.md: "Each
// category yields (retryable, refreshToken?, disableCredential?,
// suggestedDelayMs)").
func DispositionFor(c Category) Disposition {
	switch c {
	case CategoryBanned:
		return Disposition{Retryable: false, DisableCredential: true}
	case CategoryQuota:
		return Disposition{Retryable: false, DisableCredential: true}
	case CategoryAuth:
		return Disposition{Retryable: true, RefreshToken: true}
	case CategoryRateLimit:
		return Disposition{Retryable: true, SuggestedDelayMs: 1000}
	case CategoryContentTooLong:
		return Disposition{Retryable: true}
	case CategoryInvalidModel:
		return Disposition{Retryable: false}
	case CategoryClient:
		return Disposition{Retryable: false}
	case CategoryServer:
		return Disposition{Retryable: true, SuggestedDelayMs: 500}
	case CategoryNetwork:
		return Disposition{Retryable: true, SuggestedDelayMs: 250}
	default:
		return Disposition{Retryable: false}
	}
}
