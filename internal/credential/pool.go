package credential

import (
	"math/rand"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// Pool holds the set of upstream credentials and schedules among them
// (spec.md §4.1). All mutation happens under a single mutex (spec.md §5).
type Pool struct {
	mu     sync.Mutex
	creds  map[string]*Credential
	order  []string // insertion order, for the Priority policy
	policy PolicyKind
	rng    *rand.Rand

	errorThreshold int
	cooldown       time.Duration
}

// NewPool creates an empty pool using the given scheduling policy.
func NewPool(policy PolicyKind) *Pool {
	if policy == "" {
		policy = PolicySmart
	}
	return &Pool{
		creds:          make(map[string]*Credential),
		policy:         policy,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		errorThreshold: config.DefaultConsecutiveErrorThreshold,
		cooldown:       config.DefaultCooldownDuration,
	}
}

// SetPolicy changes the scheduling policy at runtime.
func (p *Pool) SetPolicy(policy PolicyKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// Add inserts or replaces a credential.
func (p *Pool) Add(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.HealthScore == 0 {
		c.HealthScore = 100
	}
	if !c.Available {
		c.Available = true
	}
	if _, exists := p.creds[c.ID]; !exists {
		p.order = append(p.order, c.ID)
	}
	p.creds[c.ID] = c
}

// Remove deletes a credential permanently (admin delete, spec.md §3).
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.creds, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Update applies a partial patch to a credential.
func (p *Pool) Update(id string, patch Patch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return false
	}
	if patch.AccessToken != nil {
		c.AccessToken = *patch.AccessToken
	}
	if patch.RefreshToken != nil {
		c.RefreshToken = *patch.RefreshToken
	}
	if patch.Region != nil {
		c.Region = *patch.Region
	}
	if patch.ProfileID != nil {
		c.ProfileID = *patch.ProfileID
	}
	if patch.MachineFP != nil {
		c.MachineFP = *patch.MachineFP
	}
	if patch.Tier != nil {
		c.Tier = *patch.Tier
	}
	if patch.Expiry != nil {
		c.Expiry = *patch.Expiry
	}
	if patch.Disabled != nil {
		c.Disabled = *patch.Disabled
	}
	return true
}

// Refresh clears a credential's error/cooldown state and extends its expiry,
// the bookkeeping a successful out-of-band OAuth refresh would leave behind
// (spec.md §6 "/api/accounts/:id/refresh"). Unlike Update, it clears the
// cooldown and quota exhaustion in one step; Disabled and Available are left
// as they are, so a disabled credential stays ineligible.
func (p *Pool) Refresh(id string, newExpiry time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return false
	}
	c.Expiry = newExpiry
	c.ConsecutiveErr = 0
	c.CooldownUntil = time.Time{}
	c.QuotaExhausted = false
	return true
}

// Get returns a snapshot copy of one credential.
func (p *Pool) Get(id string) (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return Credential{}, false
	}
	return c.Clone(), true
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Acquire selects a credential per spec.md §4.1's selection contract and
// increments its inflight count. Callers MUST call Release exactly once per
// successful Acquire, on every exit path including cancellation.
func (p *Pool) Acquire(model string) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(model)
}

func (p *Pool) acquireLocked(model string) *Credential {
	return p.acquireFromLocked(nil, model)
}

// AcquireFrom behaves like Acquire but restricts eligibility to the given
// credential ids (an empty/nil allow set means no restriction), for the
// kg-key auth mode's "allowed credentials" scoping (spec.md §6 auth mode 3).
func (p *Pool) AcquireFrom(allow []string, model string) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireFromLocked(allow, model)
}

func (p *Pool) acquireFromLocked(allow []string, model string) *Credential {
	now := time.Now()
	allowSet := toSet(allow)

	// Fast path: exactly one credential (and no allow-list scoping it out)
	// preserves zero-downtime behavior by forcibly clearing its cooldown
	// (spec.md §4.1).
	if len(allowSet) == 0 && len(p.creds) == 1 {
		for _, c := range p.creds {
			if c.Disabled {
				return nil
			}
			c.CooldownUntil = time.Time{}
			p.beginUse(c, now)
			return c
		}
	}

	candidates := p.eligibleLocked(model, now)
	candidates = filterAllowed(candidates, allowSet)
	if len(candidates) > 0 {
		picked := selectCandidate(p.policy, candidates, now, p.rng)
		p.beginUse(picked, now)
		return picked
	}

	// Zero-downtime fallback (spec.md §4.1).
	if fb := p.fallbackLocked(model, now); fb != nil && allowed(fb.ID, allowSet) {
		p.beginUse(fb, now)
		return fb
	}

	return nil
}

// AcquireID forces acquisition of one specific credential, materializing it
// via create if it does not yet exist in the pool (spec.md §6 auth mode 2:
// "a synthetic credential is materialized (or found) for that refresh
// token").
func (p *Pool) AcquireID(id string, create func() *Credential) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		if create == nil {
			return nil
		}
		c = create()
		if c == nil {
			return nil
		}
		if c.HealthScore == 0 {
			c.HealthScore = 100
		}
		c.Available = true
		p.creds[c.ID] = c
		p.order = append(p.order, c.ID)
	}
	if c.Disabled {
		return nil
	}
	p.beginUse(c, time.Now())
	return c
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func allowed(id string, set map[string]bool) bool {
	if len(set) == 0 {
		return true
	}
	return set[id]
}

func filterAllowed(creds []*Credential, set map[string]bool) []*Credential {
	if len(set) == 0 {
		return creds
	}
	out := make([]*Credential, 0, len(creds))
	for _, c := range creds {
		if set[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (p *Pool) eligibleLocked(model string, now time.Time) []*Credential {
	var out []*Credential
	for _, id := range p.orderedIDs() {
		c := p.creds[id]
		if p.isEligible(c, model, now) {
			out = append(out, c)
		}
	}
	return out
}

func (p *Pool) isEligible(c *Credential, model string, now time.Time) bool {
	if c.Disabled || c.QuotaExhausted {
		return false
	}
	if c.ConsecutiveErr >= p.errorThreshold {
		return false
	}
	if now.Before(c.CooldownUntil) {
		return false
	}
	if !c.Available {
		return false
	}
	if model != "" && !c.supportsModel(model) {
		return false
	}
	if c.isExpired(now) {
		return false
	}
	return true
}

// fallbackLocked implements the zero-downtime degraded path: soonest
// cooldown expiry (clearing it if <5s away), else fewest errors (halved),
// else any non-disabled credential.
func (p *Pool) fallbackLocked(model string, now time.Time) *Credential {
	var bestCooldown *Credential
	for _, id := range p.orderedIDs() {
		c := p.creds[id]
		if c.Disabled || c.QuotaExhausted || c.isExpired(now) {
			continue
		}
		if model != "" && !c.supportsModel(model) {
			continue
		}
		if bestCooldown == nil || c.CooldownUntil.Before(bestCooldown.CooldownUntil) {
			bestCooldown = c
		}
	}
	if bestCooldown != nil {
		if bestCooldown.CooldownUntil.Sub(now) < 5*time.Second {
			bestCooldown.CooldownUntil = time.Time{}
		}
		return bestCooldown
	}

	var fewestErrors *Credential
	for _, id := range p.orderedIDs() {
		c := p.creds[id]
		if c.Disabled {
			continue
		}
		if fewestErrors == nil || c.ConsecutiveErr < fewestErrors.ConsecutiveErr {
			fewestErrors = c
		}
	}
	if fewestErrors != nil {
		fewestErrors.ConsecutiveErr /= 2
		return fewestErrors
	}

	for _, id := range p.orderedIDs() {
		c := p.creds[id]
		if !c.Disabled {
			return c
		}
	}
	return nil
}

func (p *Pool) orderedIDs() []string {
	ids := make([]string, 0, len(p.order))
	for _, id := range p.order {
		if _, ok := p.creds[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Pool) beginUse(c *Credential, now time.Time) {
	c.Inflight++
	c.Requests++
	c.lastUse = now
	c.idleSince = time.Time{}
	c.recentRequests = append(c.recentRequests, now)
	c.recentRequests = trimWindow(c.recentRequests, now)
}

func trimWindow(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-5 * time.Minute)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// Release decrements the inflight count for id. Safe to call even if the
// credential has since been removed.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return
	}
	if c.Inflight > 0 {
		c.Inflight--
	}
	if c.Inflight == 0 {
		c.idleSince = time.Now()
	}
}

// RecordSuccess updates health, latency, and per-key counters after a
// successful request.
func (p *Pool) RecordSuccess(id string, tokens int, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return
	}
	c.HealthScore = clamp(c.HealthScore+10, 0, 100)
	c.ConsecutiveErr = 0

	if c.latencySamples == 0 {
		c.avgLatency = latency
	} else {
		c.avgLatency = (c.avgLatency*time.Duration(c.latencySamples) + latency) / time.Duration(c.latencySamples+1)
	}
	c.latencySamples++
}

// RecordError applies the bookkeeping and health-decay rules for kind
// (spec.md §4.1).
func (p *Pool) RecordError(id string, kind ErrorKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return
	}

	switch kind {
	case ErrorNetwork:
		c.HealthScore = clamp(c.HealthScore-20, 0, 100)
		// network errors do not increment the persistent error count
		return
	case ErrorBanned:
		c.Disabled = true
		c.HealthScore = clamp(c.HealthScore-50, 0, 100)
	case ErrorAuth:
		c.HealthScore = clamp(c.HealthScore-40, 0, 100)
	case ErrorQuota:
		c.QuotaExhausted = true
		c.HealthScore = clamp(c.HealthScore-30, 0, 100)
	default:
		c.HealthScore = clamp(c.HealthScore-20, 0, 100)
	}

	c.Errors++
	c.ConsecutiveErr++
	if c.ConsecutiveErr >= p.errorThreshold {
		c.CooldownUntil = time.Now().Add(p.cooldown)
	}
}

// MarkNeedsRefresh is a no-op marker hook; refresh is driven by the caller
// (auth errors trigger credential refresh per spec.md §4.1/§7).
func (p *Pool) MarkNeedsRefresh(id string) {}

// ApplyQuotaRecovery rejoins a previously quota-exhausted credential once a
// refresh reports remaining quota (spec.md §4.1).
func (p *Pool) ApplyQuotaRecovery(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.creds[id]; ok {
		c.QuotaExhausted = false
	}
}

// SelfHeal runs the periodic recovery sweep (spec.md §4.1): if every
// credential is unavailable, halve error counts and float health to >=50;
// if still hopeless, perform a full reset.
func (p *Pool) SelfHeal() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.anyAvailableLocked(now) {
		return
	}

	for _, c := range p.creds {
		if c.Disabled {
			continue
		}
		c.ConsecutiveErr /= 2
		if c.HealthScore < 50 {
			c.HealthScore = 50
		}
	}

	if p.anyAvailableLocked(now) {
		return
	}

	for _, c := range p.creds {
		if c.Disabled {
			continue
		}
		c.CooldownUntil = time.Time{}
		c.ConsecutiveErr = 0
		c.Errors = 0
		c.HealthScore = 100
	}
}

func (p *Pool) anyAvailableLocked(now time.Time) bool {
	for _, c := range p.creds {
		if p.isEligible(c, "", now) {
			return true
		}
	}
	return false
}

// Diagnostics returns a point-in-time snapshot of every credential, ordered
// by insertion.
func (p *Pool) Diagnostics() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Credential, 0, len(p.creds))
	for _, id := range p.orderedIDs() {
		out = append(out, p.creds[id].Clone())
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
