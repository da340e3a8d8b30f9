package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyStore_CreateLookupBump(t *testing.T) {
	s := newAPIKeyStore()

	key, err := s.Create("ci-bot", []string{"cred-1"}, []string{"claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.Key, apiKeyPrefix))
	assert.True(t, key.Enabled)
	assert.NotEmpty(t, key.ID)

	found, ok := s.Lookup(key.Key)
	require.True(t, ok)
	assert.Equal(t, key.ID, found.ID)

	s.Bump(key.ID)
	s.Bump(key.ID)
	got, ok := s.Get(key.ID)
	require.True(t, ok)
	assert.EqualValues(t, 2, got.Requests)
}

func TestAPIKeyStore_GetAndListMaskKey(t *testing.T) {
	s := newAPIKeyStore()
	key, err := s.Create("dashboard", nil, nil)
	require.NoError(t, err)

	got, ok := s.Get(key.ID)
	require.True(t, ok)
	assert.NotEqual(t, key.Key, got.Key, "Get must return a masked key, not the raw secret")

	list := s.List()
	require.Len(t, list, 1)
	assert.NotEqual(t, key.Key, list[0].Key)
}

func TestAPIKeyStore_LookupMissingFails(t *testing.T) {
	s := newAPIKeyStore()
	_, ok := s.Lookup("kg-does-not-exist")
	assert.False(t, ok)
}

func TestAPIKeyStore_Update(t *testing.T) {
	s := newAPIKeyStore()
	key, err := s.Create("original", nil, nil)
	require.NoError(t, err)

	newName := "renamed"
	disabled := false
	got, ok := s.Update(key.ID, &newName, &disabled, []string{"cred-a"}, []string{"claude-haiku-4-5"})
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
	assert.False(t, got.Enabled)
	assert.Equal(t, []string{"cred-a"}, got.AllowedCredentials)

	_, ok = s.Update("nonexistent", &newName, nil, nil, nil)
	assert.False(t, ok)
}

func TestAPIKeyStore_Delete(t *testing.T) {
	s := newAPIKeyStore()
	key, err := s.Create("throwaway", nil, nil)
	require.NoError(t, err)

	s.Delete(key.ID)
	_, ok := s.Get(key.ID)
	assert.False(t, ok)
}

func TestAPIKeyStore_SnapshotRestoreRoundTrip(t *testing.T) {
	s := newAPIKeyStore()
	_, err := s.Create("alpha", []string{"cred-1"}, nil)
	require.NoError(t, err)
	_, err = s.Create("beta", nil, []string{"gpt-4o"})
	require.NoError(t, err)

	data, err := s.snapshot()
	require.NoError(t, err)

	restored := newAPIKeyStore()
	require.NoError(t, restored.restore(data))
	assert.Len(t, restored.List(), 2)
}

func TestAPIKey_AllowsModelAndCredential(t *testing.T) {
	tests := []struct {
		name           string
		key            APIKey
		model          string
		credID         string
		wantModelOK    bool
		wantCredOK     bool
	}{
		{
			name:        "empty allow-lists permit anything",
			key:         APIKey{},
			model:       "claude-sonnet-4-5",
			credID:      "cred-1",
			wantModelOK: true,
			wantCredOK:  true,
		},
		{
			name:        "model restricted to listed entries",
			key:         APIKey{AllowedModels: []string{"claude-haiku-4-5"}},
			model:       "claude-sonnet-4-5",
			credID:      "cred-1",
			wantModelOK: false,
			wantCredOK:  true,
		},
		{
			name:        "credential restricted to listed entries",
			key:         APIKey{AllowedCredentials: []string{"cred-2"}},
			model:       "claude-sonnet-4-5",
			credID:      "cred-1",
			wantModelOK: true,
			wantCredOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantModelOK, tt.key.allowsModel(tt.model))
			assert.Equal(t, tt.wantCredOK, tt.key.allowsCredential(tt.credID))
		})
	}
}
