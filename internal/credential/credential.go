// Package credential implements the credential pool and scheduler described
// in spec.md §4.1: a pool of upstream-vendor credentials selected per
// request by a pluggable policy, with health-aware cooldown and self-heal.
package credential

import (
	"strings"
	"time"
)

// ErrorKind classifies a recorded failure for bookkeeping purposes
// (spec.md §4.1).
type ErrorKind string

const (
	ErrorNetwork ErrorKind = "network"
	ErrorQuota   ErrorKind = "quota"
	ErrorAuth    ErrorKind = "auth"
	ErrorBanned  ErrorKind = "banned"
	ErrorOther   ErrorKind = "other"
)

// TierFree is the subscription tier that cannot serve Opus-class models
// (spec.md §4.1). Unknown/omitted tiers are treated as Free (spec.md §9
// Open Question).
const TierFree = "free"

// Credential is one upstream account's refreshable token set plus
// bookkeeping (spec.md §3).
type Credential struct {
	ID             string
	AccessToken    string
	RefreshToken   string
	Region         string
	ProfileID      string
	MachineFP      string
	Tier           string
	Expiry         time.Time
	Requests       int64
	Errors         int64
	ConsecutiveErr int
	HealthScore    int // 0-100
	Inflight       int
	CooldownUntil  time.Time
	Available      bool
	QuotaExhausted bool
	Disabled       bool

	// Scheduler bookkeeping (spec.md §3 "Credential policy state").
	recentRequests []time.Time // sliding 5-minute window
	lastUse        time.Time
	idleSince      time.Time
	avgLatency     time.Duration
	latencySamples int
}

// Patch describes a partial update to a credential (used by Pool.Update).
type Patch struct {
	AccessToken  *string
	RefreshToken *string
	Region       *string
	ProfileID    *string
	MachineFP    *string
	Tier         *string
	Expiry       *time.Time
	Disabled     *bool
}

// Clone returns a shallow value copy safe to hand to callers outside the
// pool's lock (diagnostics snapshots).
func (c *Credential) Clone() Credential {
	cp := *c
	cp.recentRequests = append([]time.Time(nil), c.recentRequests...)
	return cp
}

// isExpired reports whether the access token has expired.
func (c *Credential) isExpired(now time.Time) bool {
	return !c.Expiry.IsZero() && !c.Expiry.After(now)
}

// nearExpiry reports whether the token expires within window.
func (c *Credential) nearExpiry(now time.Time, window time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return c.Expiry.After(now) && c.Expiry.Sub(now) <= window
}

// supportsModel implements the Free-tier / Opus-class restriction
// (spec.md §4.1, and §9 Open Question: unknown tier treated as Free).
func (c *Credential) supportsModel(model string) bool {
	tier := c.Tier
	if tier == "" {
		tier = TierFree
	}
	if tier != TierFree {
		return true
	}
	return !isOpusClass(model)
}

func isOpusClass(model string) bool {
	return strings.Contains(strings.ToLower(model), "opus")
}
