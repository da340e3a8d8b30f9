package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseBalance(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "a", Tier: "pro"})
	p.Add(&Credential{ID: "b", Tier: "pro"})

	var acquired []string
	for i := 0; i < 10; i++ {
		c := p.Acquire("claude-sonnet-4-5")
		require.NotNil(t, c)
		acquired = append(acquired, c.ID)
	}
	for _, id := range acquired {
		p.Release(id)
	}

	for _, c := range p.Diagnostics() {
		assert.Equal(t, 0, c.Inflight)
	}
}

func TestSingleCredentialFastPathClearsCooldown(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "only", Tier: "pro"})
	p.mu.Lock()
	p.creds["only"].CooldownUntil = time.Now().Add(time.Minute)
	p.mu.Unlock()

	c := p.Acquire("")
	require.NotNil(t, c)
	assert.True(t, c.CooldownUntil.IsZero())
}

func TestFreeTierCannotServeOpus(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "free1", Tier: TierFree})

	c := p.Acquire("claude-opus-4-5")
	assert.Nil(t, c)

	c = p.Acquire("claude-sonnet-4-5")
	assert.NotNil(t, c)
}

func TestCooldownEscalationAndRecovery(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "a", Tier: "pro"})
	p.Add(&Credential{ID: "b", Tier: "pro"})

	for i := 0; i < 5; i++ {
		p.RecordError("a", ErrorOther)
	}

	cred, _ := p.Get("a")
	assert.False(t, cred.CooldownUntil.IsZero())
	assert.Equal(t, 5, cred.ConsecutiveErr)

	// "a" over threshold/in cooldown: acquire should never panic and must
	// still return a usable credential (either "b" directly, or "a" via the
	// zero-downtime fallback once cooldown is close enough to clear).
	got := p.Acquire("")
	assert.NotNil(t, got)

	p.mu.Lock()
	p.creds["a"].CooldownUntil = time.Time{}
	p.mu.Unlock()

	cred, _ = p.Get("a")
	assert.Equal(t, 5, cred.ConsecutiveErr, "error count unchanged until re-armed by a new error")

	p.RecordError("a", ErrorOther)
	cred, _ = p.Get("a")
	assert.False(t, cred.CooldownUntil.IsZero(), "one more error re-arms cooldown")
}

func TestBannedCredentialPermanentlyDisabled(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "a", Tier: "pro"})
	p.RecordError("a", ErrorBanned)

	cred, _ := p.Get("a")
	assert.True(t, cred.Disabled)
	assert.Nil(t, p.Acquire(""))
}

func TestQuotaExhaustionAndRecovery(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "a", Tier: "pro"})
	p.RecordError("a", ErrorQuota)

	assert.Nil(t, p.Acquire(""))

	p.ApplyQuotaRecovery("a")
	assert.NotNil(t, p.Acquire(""))
}

func TestSelfHealFullReset(t *testing.T) {
	p := NewPool(PolicySmart)
	p.Add(&Credential{ID: "a", Tier: "pro"})
	for i := 0; i < 5; i++ {
		p.RecordError("a", ErrorOther)
	}
	p.mu.Lock()
	p.creds["a"].CooldownUntil = time.Now().Add(time.Hour)
	p.mu.Unlock()

	p.SelfHeal()
	cred, _ := p.Get("a")
	assert.True(t, cred.CooldownUntil.IsZero())
	assert.Equal(t, 0, cred.ConsecutiveErr)
}

func TestBalancedPolicyPrefersLowerInflight(t *testing.T) {
	p := NewPool(PolicyBalanced)
	p.Add(&Credential{ID: "busy", Tier: "pro"})
	p.Add(&Credential{ID: "idle", Tier: "pro"})

	p.mu.Lock()
	p.creds["busy"].Inflight = 5
	p.mu.Unlock()

	c := p.Acquire("")
	require.NotNil(t, c)
	assert.Equal(t, "idle", c.ID)
}

func TestPriorityPolicyPicksInsertionOrder(t *testing.T) {
	p := NewPool(PolicyPriority)
	p.Add(&Credential{ID: "first", Tier: "pro"})
	p.Add(&Credential{ID: "second", Tier: "pro"})

	c := p.Acquire("")
	require.NotNil(t, c)
	assert.Equal(t, "first", c.ID)
}

func TestEmptyPoolNeverPanics(t *testing.T) {
	p := NewPool(PolicySmart)
	assert.Nil(t, p.Acquire("anything"))
}
