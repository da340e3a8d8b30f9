// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token used
// as a last-resort fallback when the CJK-aware heuristic cannot run.
const TokenEstimateRatio = 4

// =============================================================================
// CREDENTIAL POOL DEFAULTS
// =============================================================================

// DefaultConsecutiveErrorThreshold disables a credential from scheduling
// once its consecutive error count reaches this value.
const DefaultConsecutiveErrorThreshold = 5

// DefaultCooldownDuration is how long a credential is removed from
// scheduling after crossing the error threshold.
const DefaultCooldownDuration = 60 * time.Second

// DefaultSelfHealInterval is how often the pool checks for a fully
// unavailable state and attempts to recover.
const DefaultSelfHealInterval = 5 * time.Minute

// TokenNearExpiryWindow is how close to expiry a token must be before the
// smart policy starts penalizing it.
const TokenNearExpiryWindow = 10 * time.Minute

// DefaultAccessTokenLifetime is the assumed validity window for a credential
// after an admin-triggered refresh, used when the caller does not supply an
// explicit expiry (spec.md §6 "/api/accounts/:id/refresh").
const DefaultAccessTokenLifetime = time.Hour

// =============================================================================
// UPSTREAM CLIENT DEFAULTS
// =============================================================================

// DefaultUpstreamTimeout is the hard POST timeout for upstream requests.
const DefaultUpstreamTimeout = 300 * time.Second

// DefaultStreamInactivityTimeout is how long the decoder waits between
// frames before considering the stream dead.
const DefaultStreamInactivityTimeout = 120 * time.Second

// DefaultPerEndpointRetryBudget is the number of attempts allowed per
// endpoint before failing over.
const DefaultPerEndpointRetryBudget = 1

// DefaultGlobalRetryBudget is the total number of attempts allowed across
// all endpoints for a single request.
const DefaultGlobalRetryBudget = 3

// DefaultDNSFreshTTL is how long a resolved hostname is trusted.
const DefaultDNSFreshTTL = 5 * time.Minute

// DefaultDNSStaleTTL is how long a stale (failed refresh) DNS entry may
// still be used as a last resort.
const DefaultDNSStaleTTL = 30 * time.Minute

// MaxFrameSize is the maximum accepted binary event-stream frame size.
const MaxFrameSize = 16 * 1024 * 1024

// MinFrameSize is the minimum accepted binary event-stream frame size.
const MinFrameSize = 16

// MaxResyncAttempts is how many consecutive corrupt bytes the decoder will
// skip before giving up on the stream.
const MaxResyncAttempts = 5

// ToolBufferCap is the maximum buffered size for one tool-use input.
const ToolBufferCap = 1 * 1024 * 1024

// ToolBufferStaleAfter is how long an unfinished tool buffer is kept before
// being pruned.
const ToolBufferStaleAfter = 60 * time.Second

// =============================================================================
// SSE RE-ENCODER DEFAULTS
// =============================================================================

// MaxResponseTextBytes caps in-memory retention of streamed response text.
const MaxResponseTextBytes = 4 * 1024 * 1024

// KeepAliveInterval is the ping cadence during otherwise-idle streaming.
const KeepAliveInterval = 25 * time.Second

// StreamTotalInactivityTimeout abandons a connection after this much total
// inactivity.
const StreamTotalInactivityTimeout = 300 * time.Second

// MicroBufferByteThreshold flushes the SSE micro-buffer once unflushed bytes
// reach this size.
const MicroBufferByteThreshold = 1024

// MicroBufferTimeThreshold flushes the SSE micro-buffer once this much time
// has elapsed since the last flush.
const MicroBufferTimeThreshold = 16 * time.Millisecond

// WriteFailureCancelWindow is how quickly a failed SSE write must propagate
// as stream cancellation (see spec Open Question on writer return value).
const WriteFailureCancelWindow = 100 * time.Millisecond

// ThinkingOverflowCharLimit force-exits an unterminated thinking block.
const ThinkingOverflowCharLimit = 100000

// =============================================================================
// CONTEXT COMPRESSOR DEFAULTS
// =============================================================================

// DefaultMaxMessagesPerSession triggers compression once exceeded.
const DefaultMaxMessagesPerSession = 200

// DefaultTokenThreshold triggers compression once estimated tokens exceed
// this value.
const DefaultTokenThreshold = 100000

// DefaultKeepCount is the minimum number of recent messages preserved
// verbatim after compression.
const DefaultKeepCount = 30

// DefaultToolLookback extends the boundary search window backwards to avoid
// cutting inside a tool-use/tool-result pair.
const DefaultToolLookback = 10

// MaxBatchMessages caps a single summarization batch.
const MaxBatchMessages = 8

// MaxBatchChars caps a single summarization batch by size.
const MaxBatchChars = 40000

// MaxBatchConcurrency bounds concurrent batch summarization calls.
const MaxBatchConcurrency = 3

// SummaryTargetRatio is the target summary length relative to source chars.
const SummaryTargetRatio = 0.15

// SummaryMaxTokens bounds the summarization call's max_tokens.
const SummaryMaxTokens = 2048

// DefaultCacheTTL is the default TTL for compressor cache entries.
const DefaultCacheTTL = 30 * time.Minute

// L2CacheByteBudget bounds the L2 LRU cache's total retained bytes.
const L2CacheByteBudget = 100 * 1024 * 1024

// L2CacheMaxEntries bounds the L2 LRU cache's entry count.
const L2CacheMaxEntries = 500

// L3SweepBatchSize bounds how many expired L3 entries are pruned per sweep.
const L3SweepBatchSize = 50

// SingleFlightLockTTL bounds how long a compression-in-progress lock may be
// held before being considered abandoned.
const SingleFlightLockTTL = 120 * time.Second

// =============================================================================
// FAULT LAYER DEFAULTS
// =============================================================================

// DefaultBreakerFailureThreshold opens the circuit after this many
// consecutive failures.
const DefaultBreakerFailureThreshold = 5

// DefaultBreakerResetTimeout is how long OPEN holds before trying HALF_OPEN.
const DefaultBreakerResetTimeout = 30 * time.Second

// DefaultBreakerHalfOpenSuccesses closes the circuit after this many
// consecutive successes in HALF_OPEN.
const DefaultBreakerHalfOpenSuccesses = 3

// DefaultRateBurstMultiplier sizes the global token bucket relative to rate.
const DefaultRateBurstMultiplier = 3

// MaxPerCredentialBuckets bounds the per-credential rate limiter map before
// a cleanup sweep prunes it.
const MaxPerCredentialBuckets = 200

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// MaxResponseSize is the maximum allowed upstream response body (50MB).
const MaxResponseSize = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultPort is the HTTP listen port when PORT is unset.
const DefaultPort = 8000

// =============================================================================
// PERSISTENCE
// =============================================================================

// DefaultSnapshotInterval is how often in-memory state is flushed to the KV store.
const DefaultSnapshotInterval = 60 * time.Second

// RequestLogCapacity bounds the in-memory request log ring buffer.
const RequestLogCapacity = 500

// ToolConvertCacheSize bounds the tool-definition conversion LRU.
const ToolConvertCacheSize = 8

// ToolConvertCacheTTL bounds how long a converted tool-definition entry is trusted.
const ToolConvertCacheTTL = 5 * time.Minute

// SessionConversationCacheSize bounds the session->conversation id LRU.
const SessionConversationCacheSize = 500

// ToolDescriptionMaxLen truncates tool descriptions sent upstream.
const ToolDescriptionMaxLen = 10237

// ToolNameMaxLen truncates tool names sent upstream.
const ToolNameMaxLen = 64

// DefaultThinkingBudgetTokens is used when no explicit budget is given.
const DefaultThinkingBudgetTokens = 200000

// SummarizerModel is the credential-agnostic model id used for the
// compressor's internal summarization calls (spec.md §4.6).
const SummarizerModel = "claude-haiku-4-5"
