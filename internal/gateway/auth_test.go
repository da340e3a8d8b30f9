package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/config"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return &Gateway{
		cfg:     &config.Config{ProxyAPIKey: "proxy-secret", AdminPassword: "admin-secret"},
		apiKeys: newAPIKeyStore(),
		fallback: newAuthFallbackStore(),
	}
}

func authRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	return r
}

func TestResolveClientAuth_Mode1SharedProxyKey(t *testing.T) {
	g := newTestGateway(t)

	auth, authErr := g.resolveClientAuth(authRequest("proxy-secret"))
	require.Nil(t, authErr)
	assert.Empty(t, auth.forcedCredentialID)
	assert.Empty(t, auth.allowedCredentials)
	assert.True(t, auth.modelAllowed("claude-sonnet-4-5"))
}

func TestResolveClientAuth_Mode2RefreshTokenSynthesizesCredential(t *testing.T) {
	g := newTestGateway(t)

	auth, authErr := g.resolveClientAuth(authRequest("proxy-secret:my-refresh-token"))
	require.Nil(t, authErr)
	require.NotEmpty(t, auth.forcedCredentialID)
	require.NotNil(t, auth.synthesize)

	cred := auth.synthesize()
	require.NotNil(t, cred)
	assert.Equal(t, "my-refresh-token", cred.RefreshToken)
	assert.Equal(t, auth.forcedCredentialID, cred.ID)

	// The same refresh token must resolve to the same synthetic id on a
	// second call, so repeated requests reuse one pool entry.
	auth2, authErr2 := g.resolveClientAuth(authRequest("proxy-secret:my-refresh-token"))
	require.Nil(t, authErr2)
	assert.Equal(t, auth.forcedCredentialID, auth2.forcedCredentialID)
}

func TestResolveClientAuth_Mode3GatewayKeyScoping(t *testing.T) {
	g := newTestGateway(t)
	key, err := g.apiKeys.Create("scoped", []string{"cred-a"}, []string{"claude-haiku-4-5"})
	require.NoError(t, err)

	auth, authErr := g.resolveClientAuth(authRequest(key.Key))
	require.Nil(t, authErr)
	assert.Equal(t, []string{"cred-a"}, auth.allowedCredentials)
	assert.True(t, auth.modelAllowed("claude-haiku-4-5"))
	assert.False(t, auth.modelAllowed("claude-sonnet-4-5"))

	require.NotNil(t, auth.bumpAPIKey)
	auth.bumpAPIKey()
	got, ok := g.apiKeys.Get(key.ID)
	require.True(t, ok)
	assert.EqualValues(t, 1, got.Requests)
}

func TestResolveClientAuth_Mode3DisabledKeyRejected(t *testing.T) {
	g := newTestGateway(t)
	key, err := g.apiKeys.Create("disabled-key", nil, nil)
	require.NoError(t, err)
	disabled := false
	_, ok := g.apiKeys.Update(key.ID, nil, &disabled, nil, nil)
	require.True(t, ok)

	_, authErr := g.resolveClientAuth(authRequest(key.Key))
	require.NotNil(t, authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.status)
}

func TestResolveClientAuth_MissingOrUnknownKeyRejected(t *testing.T) {
	g := newTestGateway(t)

	_, authErr := g.resolveClientAuth(authRequest(""))
	require.NotNil(t, authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.status)

	_, authErr = g.resolveClientAuth(authRequest("not-a-known-key"))
	require.NotNil(t, authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.status)
}

func TestRequireAdmin_RejectsWrongOrMissingToken(t *testing.T) {
	g := newTestGateway(t)
	called := false
	h := g.requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	h(w, authRequest("wrong-password"))
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h(w, authRequest("admin-secret"))
	assert.True(t, called)
}
