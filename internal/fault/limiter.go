package fault

import (
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// bucket is a single token bucket, refilled continuously based on elapsed
// time since the last check (spec.md §4.7 "Token bucket rate limiter").
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastCheck  time.Time
}

func newBucket(ratePerMinute float64, burstMultiplier float64, now time.Time) *bucket {
	capacity := ratePerMinute * burstMultiplier
	return &bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: ratePerMinute / 60,
		lastCheck:  now,
	}
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastCheck = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter is the global-plus-per-credential rate limiter.
type Limiter struct {
	mu              sync.Mutex
	global          *bucket
	perCredential   map[string]*bucket
	ratePerMinute   float64
	burstMultiplier float64
}

// NewLimiter creates a limiter with the given global rate (requests per
// minute); burst capacity is rate * DefaultRateBurstMultiplier.
func NewLimiter(ratePerMinute float64) *Limiter {
	now := time.Now()
	return &Limiter{
		global:          newBucket(ratePerMinute, config.DefaultRateBurstMultiplier, now),
		perCredential:   make(map[string]*bucket),
		ratePerMinute:   ratePerMinute,
		burstMultiplier: config.DefaultRateBurstMultiplier,
	}
}

// Allow checks both the global bucket and (if credentialID is non-empty) a
// lazily-created per-credential bucket, returning (allowed, reason).
func (l *Limiter) Allow(credentialID string, now time.Time) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.global.allow(now) {
		return false, "global rate limit exceeded"
	}

	if credentialID == "" {
		return true, ""
	}

	b, ok := l.perCredential[credentialID]
	if !ok {
		b = newBucket(l.ratePerMinute, l.burstMultiplier, now)
		l.perCredential[credentialID] = b
	}
	if !b.allow(now) {
		return false, "per-credential rate limit exceeded"
	}

	l.cleanupLocked()
	return true, ""
}

// cleanupLocked drops all per-credential buckets once the map grows past
// MaxPerCredentialBuckets (spec.md: "Cleanup prunes all per-credential
// buckets when the map exceeds 200 entries").
func (l *Limiter) cleanupLocked() {
	if len(l.perCredential) > config.MaxPerCredentialBuckets {
		l.perCredential = make(map[string]*bucket)
	}
}
