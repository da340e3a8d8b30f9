package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/credential"
	"github.com/vendorgate/gateway/internal/store"
)

func TestNew_LoadsPersistedCredentialsAndAPIKeys(t *testing.T) {
	s := store.NewMemoryStore()

	raw, err := json.Marshal(credential.Credential{ID: "cred-1", Available: true, HealthScore: 80})
	require.NoError(t, err)
	require.NoError(t, s.Set(store.NSCredentials+"cred-1", raw))

	g, err := New(&config.Config{}, s)
	require.NoError(t, err)
	require.NotNil(t, g)

	c, ok := g.pool.Get("cred-1")
	require.True(t, ok)
	assert.Equal(t, 80, c.HealthScore)
}

func TestSnapshot_PersistsCredentialsAndAPIKeysAndSettings(t *testing.T) {
	s := store.NewMemoryStore()
	g, err := New(&config.Config{}, s)
	require.NoError(t, err)

	g.pool.Add(&credential.Credential{ID: "cred-a", Available: true, HealthScore: 100})
	_, err = g.apiKeys.Create("ci", nil, nil)
	require.NoError(t, err)

	require.NoError(t, g.Snapshot())

	_, ok, err := s.Get(store.NSCredentials + "cred-a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Get(store.NSAPIKeys + "all")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Get(store.KeyConfigSettings)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteJSONError_SetsStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSONError(w, 429, "rate_limit_error", "slow down")

	assert.Equal(t, 429, w.Code)
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_error", body.Error.Type)
	assert.Equal(t, "slow down", body.Error.Message)
}

func TestNewRequestID_IsUniqueAndNonEmpty(t *testing.T) {
	a := newRequestID()
	b := newRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestAtoiOr(t *testing.T) {
	assert.Equal(t, 42, atoiOr("42", 7))
	assert.Equal(t, 7, atoiOr("", 7))
	assert.Equal(t, 7, atoiOr("not-a-number", 7))
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:54321"))
	assert.True(t, isLoopback("localhost:8000"))
	assert.False(t, isLoopback("203.0.113.5:8000"))
}
