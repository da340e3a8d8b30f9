package credential

import (
	"math/rand"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// PolicyKind selects a scheduling policy at runtime (spec.md §4.1).
type PolicyKind string

const (
	PolicyPriority PolicyKind = "priority"
	PolicyBalanced PolicyKind = "balanced"
	PolicySmart    PolicyKind = "smart"
)

// scoredCandidate pairs a candidate with its ranking score. Lower is
// "picked first" for Priority/Balanced; higher is better for Smart.
type scoredCandidate struct {
	cred  *Credential
	score float64
}

// selectCandidate picks one credential among candidates per the active
// policy. candidates is never empty (callers guarantee that).
func selectCandidate(policy PolicyKind, candidates []*Credential, now time.Time, rng *rand.Rand) *Credential {
	switch policy {
	case PolicyBalanced:
		return selectBalanced(candidates, now)
	case PolicyPriority:
		return candidates[0]
	default:
		return selectSmart(candidates, now, rng)
	}
}

// selectBalanced minimizes inflight*1000 + recentRequestsIn5Min.
func selectBalanced(candidates []*Credential, now time.Time) *Credential {
	best := candidates[0]
	bestScore := balancedScore(best, now)
	for _, c := range candidates[1:] {
		s := balancedScore(c, now)
		if s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func balancedScore(c *Credential, now time.Time) int {
	return c.Inflight*1000 + recentRequestCount(c, now)
}

func recentRequestCount(c *Credential, now time.Time) int {
	cutoff := now.Add(-5 * time.Minute)
	n := 0
	for _, t := range c.recentRequests {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// selectSmart computes the weighted health score described in spec.md §4.1
// and breaks ties by picking uniformly at random among all candidates
// within 15% of the top score.
func selectSmart(candidates []*Credential, now time.Time, rng *rand.Rand) *Credential {
	scored := make([]scoredCandidate, len(candidates))
	avgInflight := averageInflight(candidates)

	for i, c := range candidates {
		scored[i] = scoredCandidate{cred: c, score: smartScore(c, now, avgInflight)}
	}

	top := scored[0].score
	for _, s := range scored[1:] {
		if s.score > top {
			top = s.score
		}
	}

	threshold := top * 0.85
	if top <= 0 {
		threshold = top - 0.15*absf(top)
	}

	var pool []*Credential
	for _, s := range scored {
		if s.score >= threshold {
			pool = append(pool, s.cred)
		}
	}
	if len(pool) == 0 {
		return scored[0].cred
	}
	if rng == nil {
		return pool[0]
	}
	return pool[rng.Intn(len(pool))]
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func averageInflight(candidates []*Credential) float64 {
	total := 0
	for _, c := range candidates {
		total += c.Inflight
	}
	return float64(total) / float64(len(candidates))
}

// smartScore implements: healthScore - 30*inflight + usage_deviation_bonus,
// where the bonus subtracts up to 40 for above-average inflight load, adds
// up to 30 for below-average load, adds 5 once idle plus 20 more once idle
// >=30s, adds 10 for average latency under 5s, and penalizes near-expiry
// tokens (-5 to -15).
func smartScore(c *Credential, now time.Time, avgInflight float64) float64 {
	score := float64(c.HealthScore) - 30*float64(c.Inflight)

	deviation := float64(c.Inflight) - avgInflight
	switch {
	case deviation > 0:
		penalty := deviation * 10
		if penalty > 40 {
			penalty = 40
		}
		score -= penalty
	case deviation < 0:
		bonus := -deviation * 10
		if bonus > 30 {
			bonus = 30
		}
		score += bonus
	}

	if !c.idleSince.IsZero() {
		idleFor := now.Sub(c.idleSince)
		if idleFor > 0 {
			score += 5
		}
		if idleFor >= 30*time.Second {
			score += 20
		}
	}

	if c.latencySamples > 0 && c.avgLatency > 0 && c.avgLatency < 5*time.Second {
		score += 10
	}

	if c.nearExpiry(now, config.TokenNearExpiryWindow) {
		remaining := c.Expiry.Sub(now)
		frac := 1 - remaining.Seconds()/config.TokenNearExpiryWindow.Seconds()
		penalty := 5 + frac*10
		score -= penalty
	}

	return score
}
