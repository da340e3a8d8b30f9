package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/store"
	"github.com/vendorgate/gateway/internal/utils"
)

// apiKeyPrefix marks a gateway-issued key, distinguishing auth mode 3 from
// the shared PROXY_API_KEY (spec.md §6 "key starts with kg-").
const apiKeyPrefix = "kg-"

// APIKey is one admin-issued gateway key (spec.md §6 "/api/keys").
type APIKey struct {
	ID                 string    `json:"id"`
	Key                string    `json:"key"` // masked on every read after creation
	Name               string    `json:"name"`
	Enabled            bool      `json:"enabled"`
	AllowedCredentials []string  `json:"allowed_credentials,omitempty"` // empty = any
	AllowedModels      []string  `json:"allowed_models,omitempty"`      // empty = any
	Requests           int64     `json:"requests"`
	CreatedAt          time.Time `json:"created_at"`
}

func (k APIKey) allowsModel(model string) bool {
	if len(k.AllowedModels) == 0 {
		return true
	}
	for _, m := range k.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

func (k APIKey) allowsCredential(id string) bool {
	if len(k.AllowedCredentials) == 0 {
		return true
	}
	for _, c := range k.AllowedCredentials {
		if c == id {
			return true
		}
	}
	return false
}

// masked returns a copy of k with Key replaced by its display-safe form
// (spec.md: "create returns the raw key exactly once; subsequent reads mask
// it").
func (k APIKey) masked() APIKey {
	k.Key = utils.MaskKeyShort(k.Key)
	return k
}

// apiKeyStore is the in-memory, KV-backed registry of gateway-issued API
// keys, mirroring credential.Pool's mutex-guarded-map shape (spec.md §9
// design notes: "only its CRUD contract matters").
type apiKeyStore struct {
	mu   sync.Mutex
	keys map[string]*APIKey
}

func newAPIKeyStore() *apiKeyStore {
	return &apiKeyStore{keys: make(map[string]*APIKey)}
}

// Create mints a fresh kg- key and stores it, returning the unmasked value.
func (s *apiKeyStore) Create(name string, allowedCredentials, allowedModels []string) (APIKey, error) {
	raw, err := generateAPIKey()
	if err != nil {
		return APIKey{}, err
	}
	key := APIKey{
		ID:                 raw[len(apiKeyPrefix):len(apiKeyPrefix)+12],
		Key:                raw,
		Name:               name,
		Enabled:            true,
		AllowedCredentials: allowedCredentials,
		AllowedModels:      allowedModels,
		CreatedAt:          time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = &key
	return key, nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// Lookup finds a key by its raw value, enabled or not (used on the hot auth
// path, which checks Enabled itself).
func (s *apiKeyStore) Lookup(raw string) (*APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Key == raw {
			return k, true
		}
	}
	return nil, false
}

// Bump increments a key's request counter (spec.md: "bumps its counters").
func (s *apiKeyStore) Bump(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.Requests++
	}
}

// Get returns a masked snapshot of one key.
func (s *apiKeyStore) Get(id string) (APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return APIKey{}, false
	}
	return k.masked(), true
}

// List returns masked snapshots of every key.
func (s *apiKeyStore) List() []APIKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.masked())
	}
	return out
}

// Update applies a partial edit (name/enabled/allow-lists), never the key
// itself.
func (s *apiKeyStore) Update(id string, name *string, enabled *bool, allowedCredentials, allowedModels []string) (APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return APIKey{}, false
	}
	if name != nil {
		k.Name = *name
	}
	if enabled != nil {
		k.Enabled = *enabled
	}
	if allowedCredentials != nil {
		k.AllowedCredentials = allowedCredentials
	}
	if allowedModels != nil {
		k.AllowedModels = allowedModels
	}
	return k.masked(), true
}

// Delete permanently removes a key.
func (s *apiKeyStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
}

// snapshot serializes every key (including its raw, unmasked value) for
// persistence to the KV store.
func (s *apiKeyStore) snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *k)
	}
	return json.Marshal(out)
}

// restore loads keys previously persisted by snapshot.
func (s *apiKeyStore) restore(data []byte) error {
	var keys []APIKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range keys {
		k := keys[i]
		s.keys[k.ID] = &k
	}
	return nil
}

var _ = store.NSAPIKeys // namespace is used by the owning Gateway's snapshot loop
