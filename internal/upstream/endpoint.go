package upstream

import (
	"sort"
	"sync"
	"time"
)

// Endpoint is one of the two known upstream targets (spec.md §4.3: "Two
// known upstream endpoints (region-templated URLs) with different origin
// tags").
type Endpoint struct {
	Name     string // e.g. "us-east-1"
	URLTmpl  string // region-templated base URL
	Origin   string

	mu              sync.Mutex
	recentErrors    []time.Time
	recentRequests  int
	recentSuccesses int
	ewmaLatency     time.Duration
}

// NewEndpoint constructs an Endpoint.
func NewEndpoint(name, urlTmpl, origin string) *Endpoint {
	return &Endpoint{Name: name, URLTmpl: urlTmpl, Origin: origin}
}

// RecordError notes a failed attempt against this endpoint.
func (e *Endpoint) RecordError(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentErrors = append(e.recentErrors, now)
	e.recentRequests++
}

// RecordSuccess notes a successful attempt and updates the latency EWMA.
func (e *Endpoint) RecordSuccess(now time.Time, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentRequests++
	e.recentSuccesses++
	e.recentErrors = e.recentErrors[:0] // a success ends the consecutive-error run
	if e.ewmaLatency == 0 {
		e.ewmaLatency = latency
	} else {
		// alpha = 0.3, consistent with the pool's health-decay cadence.
		e.ewmaLatency = time.Duration(0.7*float64(e.ewmaLatency) + 0.3*float64(latency))
	}
}

func (e *Endpoint) consecutiveErrorsWithin(now time.Time, window time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for i := len(e.recentErrors) - 1; i >= 0; i-- {
		if now.Sub(e.recentErrors[i]) > window {
			break
		}
		count++
	}
	return count
}

func (e *Endpoint) successRate() (rate float64, sampleSize int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recentRequests == 0 {
		return 1, 0
	}
	return float64(e.recentSuccesses) / float64(e.recentRequests), e.recentRequests
}

func (e *Endpoint) latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ewmaLatency
}

// OrderEndpoints ranks endpoints for an acquire attempt: unhealthy endpoints
// (≥3 consecutive errors within 30s) go last; among the rest, a success-rate
// gap >10% (with a ≥5-request sample) wins, else lower EWMA latency wins
// (spec.md §4.3).
func OrderEndpoints(endpoints []*Endpoint, preferred string, now time.Time) []*Endpoint {
	out := make([]*Endpoint, len(endpoints))
	copy(out, endpoints)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if preferred != "" {
			if a.Name == preferred && b.Name != preferred {
				return true
			}
			if b.Name == preferred && a.Name != preferred {
				return false
			}
		}

		aUnhealthy := a.consecutiveErrorsWithin(now, 30*time.Second) >= 3
		bUnhealthy := b.consecutiveErrorsWithin(now, 30*time.Second) >= 3
		if aUnhealthy != bUnhealthy {
			return !aUnhealthy
		}

		aRate, aSample := a.successRate()
		bRate, bSample := b.successRate()
		if aSample >= 5 && bSample >= 5 {
			if diff := aRate - bRate; diff > 0.10 || diff < -0.10 {
				return aRate > bRate
			}
		}

		return a.latency() < b.latency()
	})

	return out
}
