// Package monitoring provides lightweight in-memory operational counters
// and the request-log ring buffer surfaced by the admin stats/logs
// endpoints (spec.md §6).
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics: request counts, credential
// pool health events, compression activity, cache performance, fault-layer
// state transitions, and rate-limiter throttling.
type MetricsCollector struct {
	startedAt time.Time

	requests  atomic.Int64
	successes atomic.Int64

	compressions   atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	tokensSaved    atomic.Int64
	tokensOriginal atomic.Int64

	totalInputTokens  atomic.Int64
	totalOutputTokens atomic.Int64

	breakerOpens      atomic.Int64
	rateLimitThrottles atomic.Int64
	credentialCooldowns atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordRequest records a request outcome.
func (mc *MetricsCollector) RecordRequest(success bool, _ time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordCompression records a compressor run's token savings.
func (mc *MetricsCollector) RecordCompression(originalTokens, savedTokens int, _ bool) {
	mc.compressions.Add(1)
	mc.tokensOriginal.Add(int64(originalTokens))
	mc.tokensSaved.Add(int64(savedTokens))
}

// RecordCacheHit records a compressor cache hit (any tier).
func (mc *MetricsCollector) RecordCacheHit() { mc.cacheHits.Add(1) }

// RecordCacheMiss records a compressor cache miss.
func (mc *MetricsCollector) RecordCacheMiss() { mc.cacheMisses.Add(1) }

// RecordAPIUsage records actual billed token usage reported by upstream.
func (mc *MetricsCollector) RecordAPIUsage(inputTokens, outputTokens int) {
	mc.totalInputTokens.Add(int64(inputTokens))
	mc.totalOutputTokens.Add(int64(outputTokens))
}

// RecordBreakerOpen records one request rejected because the circuit breaker
// is open.
func (mc *MetricsCollector) RecordBreakerOpen() { mc.breakerOpens.Add(1) }

// RecordRateLimitThrottle records a rejected request due to the token
// bucket limiter.
func (mc *MetricsCollector) RecordRateLimitThrottle() { mc.rateLimitThrottles.Add(1) }

// RecordCredentialCooldown records a credential crossing its consecutive
// error threshold into cooldown.
func (mc *MetricsCollector) RecordCredentialCooldown() { mc.credentialCooldowns.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// FullStats returns all metrics in a structured format for the
// /api/metrics and /api/proxy/stats endpoints.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()
	hits := mc.cacheHits.Load()
	misses := mc.cacheMisses.Load()

	var cacheHitRate float64
	if total := hits + misses; total > 0 {
		cacheHitRate = float64(hits) / float64(total) * 100
	}

	original := mc.tokensOriginal.Load()
	saved := mc.tokensSaved.Load()
	var savingsPercent float64
	if original > 0 {
		savingsPercent = float64(saved) / float64(original) * 100
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:      requests,
			Successful: successes,
			Failed:     requests - successes,
		},
		Tokens: TokenStats{
			OriginalTokens: original,
			TokensSaved:    saved,
			SavingsPercent: savingsPercent,
			InputTokens:    mc.totalInputTokens.Load(),
			OutputTokens:   mc.totalOutputTokens.Load(),
		},
		Compression: CompressionStats{
			Operations:   mc.compressions.Load(),
			CacheHits:    hits,
			CacheMisses:  misses,
			CacheHitRate: cacheHitRate,
		},
		Fault: FaultStats{
			BreakerOpens:        mc.breakerOpens.Load(),
			RateLimitThrottles:  mc.rateLimitThrottles.Load(),
			CredentialCooldowns: mc.credentialCooldowns.Load(),
		},
	}
}

// StatsResponse is the structured response for the stats endpoints.
type StatsResponse struct {
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartedAt     string           `json:"started_at"`
	Requests      RequestStats     `json:"requests"`
	Tokens        TokenStats       `json:"tokens"`
	Compression   CompressionStats `json:"compression"`
	Fault         FaultStats       `json:"fault"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// TokenStats holds token savings metrics.
type TokenStats struct {
	OriginalTokens int64   `json:"original_tokens"`
	TokensSaved    int64   `json:"tokens_saved"`
	SavingsPercent float64 `json:"savings_percent"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
}

// CompressionStats holds compressor pipeline metrics.
type CompressionStats struct {
	Operations   int64   `json:"operations"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// FaultStats holds fault-layer metrics.
type FaultStats struct {
	BreakerOpens        int64 `json:"breaker_opens"`
	RateLimitThrottles  int64 `json:"rate_limit_throttles"`
	CredentialCooldowns int64 `json:"credential_cooldowns"`
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
