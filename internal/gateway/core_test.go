package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/credential"
	"github.com/vendorgate/gateway/internal/fault"
	"github.com/vendorgate/gateway/internal/translator"
	"github.com/vendorgate/gateway/internal/upstream"
)

func TestClassifyUpstreamErr(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"quota exhausted", upstream.ErrQuotaExhausted, http.StatusTooManyRequests, "rate_limit_error"},
		{"auth failed", upstream.ErrAuthFailed, http.StatusUnauthorized, "authentication_error"},
		{"content too long", upstream.ErrContentTooLong, http.StatusBadRequest, "invalid_request_error"},
		{"unclassified error", errors.New("boom"), http.StatusInternalServerError, "api_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classifyUpstreamErr(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestApplyDisposition_QuotaDisablesCredentialButLeavesBreakerUnchanged(t *testing.T) {
	pool := credential.NewPool(credential.PolicySmart)
	pool.Add(&credential.Credential{ID: "cred-1", Available: true, HealthScore: 100})

	g := &Gateway{pool: pool, breaker: fault.NewBreaker()}
	disp := g.applyDisposition("cred-1", upstream.ErrQuotaExhausted)

	c, ok := pool.Get("cred-1")
	assert.True(t, ok)
	assert.True(t, c.QuotaExhausted)
	assert.True(t, disp.DisableCredential)
	assert.Equal(t, fault.StateClosed, g.breaker.CurrentState(), "a credential's own quota exhaustion is not an upstream-wide failure (spec.md S5: breaker unchanged)")
}

// fakeUpstreamCaller lets callUpstream's failover logic be driven without a
// real upstream.Client, keyed by the AccessToken each Request carries.
type fakeUpstreamCaller struct {
	calls []string
	fail  map[string]error
}

func (f *fakeUpstreamCaller) Do(_ context.Context, req upstream.Request, _ string) (io.ReadCloser, error) {
	f.calls = append(f.calls, req.AccessToken)
	if err, ok := f.fail[req.AccessToken]; ok {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func TestCallUpstream_FailsOverToAnotherCredentialOnQuotaExhaustion(t *testing.T) {
	pool := credential.NewPool(credential.PolicySmart)
	pool.Add(&credential.Credential{ID: "cred-a", AccessToken: "cred-a", Available: true, HealthScore: 100})
	pool.Add(&credential.Credential{ID: "cred-b", AccessToken: "cred-b", Available: true, HealthScore: 100})

	fake := &fakeUpstreamCaller{fail: map[string]error{"cred-a": upstream.ErrQuotaExhausted}}
	g := &Gateway{pool: pool, breaker: fault.NewBreaker(), client: fake}

	startCred := pool.AcquireFrom([]string{"cred-a"}, "")
	require.NotNil(t, startCred)

	payload := translator.CanonicalPayload{CurrentUserMessage: translator.Turn{Role: translator.RoleUser, Text: "hi"}}
	rc, finalCred, err := g.callUpstream(context.Background(), clientAuth{}, "claude-sonnet-4-5", payload, startCred, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rc)
	rc.Close()

	assert.Equal(t, "cred-b", finalCred.ID)
	assert.Equal(t, []string{"cred-a", "cred-b"}, fake.calls)

	a, ok := pool.Get("cred-a")
	require.True(t, ok)
	assert.True(t, a.QuotaExhausted)
	assert.Equal(t, fault.StateClosed, g.breaker.CurrentState(), "fan-out to another credential must leave the breaker unchanged (spec.md S5)")
}

func TestCallUpstream_ForcedCredentialDoesNotFailOver(t *testing.T) {
	pool := credential.NewPool(credential.PolicySmart)
	pool.Add(&credential.Credential{ID: "cred-a", AccessToken: "cred-a", Available: true, HealthScore: 100})
	pool.Add(&credential.Credential{ID: "cred-b", AccessToken: "cred-b", Available: true, HealthScore: 100})

	fake := &fakeUpstreamCaller{fail: map[string]error{"cred-a": upstream.ErrQuotaExhausted}}
	g := &Gateway{pool: pool, breaker: fault.NewBreaker(), client: fake}

	startCred := pool.AcquireFrom([]string{"cred-a"}, "")
	require.NotNil(t, startCred)

	payload := translator.CanonicalPayload{CurrentUserMessage: translator.Turn{Role: translator.RoleUser, Text: "hi"}}
	auth := clientAuth{forcedCredentialID: "cred-a"}
	_, finalCred, err := g.callUpstream(context.Background(), auth, "claude-sonnet-4-5", payload, startCred, time.Now())

	assert.ErrorIs(t, err, upstream.ErrQuotaExhausted)
	assert.Equal(t, "cred-a", finalCred.ID)
	assert.Equal(t, []string{"cred-a"}, fake.calls)
}

func TestApplyDisposition_AuthErrorDoesNotDisableCredential(t *testing.T) {
	pool := credential.NewPool(credential.PolicySmart)
	pool.Add(&credential.Credential{ID: "cred-1", Available: true, HealthScore: 100})

	g := &Gateway{pool: pool, breaker: fault.NewBreaker()}
	g.applyDisposition("cred-1", upstream.ErrAuthFailed)

	c, ok := pool.Get("cred-1")
	assert.True(t, ok)
	assert.False(t, c.Disabled)
	assert.Equal(t, int64(1), c.Errors)
}

type fakePinger struct {
	lastActivity time.Time
	pings        int
}

func (f *fakePinger) LastActivity() time.Time { return f.lastActivity }
func (f *fakePinger) Ping()                   { f.pings++ }

func TestPingUntilDone_StopsWhenDoneCloses(t *testing.T) {
	g := &Gateway{}
	p := &fakePinger{lastActivity: time.Now()}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		g.pingUntilDone(struct {
			upstream.Sink
			*fakePinger
		}{nil, p}, done)
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("pingUntilDone did not return after done closed")
	}
}
