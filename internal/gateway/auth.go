package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/credential"
)

const authFallbackCleanupInterval = 10 * time.Minute
const authFallbackTTL = time.Hour

// authFallbackStore remembers, per refresh token, which synthetic
// credential id was materialized for it, so repeated requests with the same
// refresh token reuse one credential rather than minting a fresh one every
// call (spec.md §6 auth mode 2: "materialized or found"). Grounded on the
// teacher's internal/gateway/auth_fallback.go TTL-map/cleanup-loop shape,
// generalized from a boolean session flag into a session->credential-id
// cache.
type authFallbackStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	stopCh   chan struct{}
}

type sessionEntry struct {
	credentialID string
	lastUse      time.Time
}

func newAuthFallbackStore() *authFallbackStore {
	s := &authFallbackStore{
		sessions: make(map[string]sessionEntry),
		stopCh:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *authFallbackStore) credentialIDFor(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return "synthetic-" + hex.EncodeToString(sum[:8])
}

func (s *authFallbackStore) remember(refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[refreshToken] = sessionEntry{credentialID: s.credentialIDFor(refreshToken), lastUse: time.Now()}
}

func (s *authFallbackStore) cleanupLoop() {
	ticker := time.NewTicker(authFallbackCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *authFallbackStore) Stop() { close(s.stopCh) }

func (s *authFallbackStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, e := range s.sessions {
		if now.Sub(e.lastUse) > authFallbackTTL {
			delete(s.sessions, id)
		}
	}
}

// clientAuth is what resolveClientAuth establishes for one request: nothing
// (auth mode 1, the shared pool chooses), a forced single credential id
// (auth mode 2), or a scoping allow-list plus the matching API key's
// bookkeeping hook (auth mode 3).
type clientAuth struct {
	forcedCredentialID string                       // set only by mode 2; empty for modes 1 and 3
	allowedCredentials []string                      // mode 3 scoping; nil means unrestricted
	allowedModels      []string                      // mode 3 scoping; nil means unrestricted
	bumpAPIKey         func()
	synthesize         func() *credential.Credential // mode 2: lazily creates the synthetic credential
}

func (a clientAuth) modelAllowed(model string) bool {
	if len(a.allowedModels) == 0 {
		return true
	}
	for _, m := range a.allowedModels {
		if m == model {
			return true
		}
	}
	return false
}

type authError struct {
	status int
	kind   string
	msg    string
}

// resolveClientAuth implements the three auth modes of spec.md §6.
func (g *Gateway) resolveClientAuth(r *http.Request) (clientAuth, *authError) {
	raw := parseBearerOrAPIKey(r)
	if raw == "" {
		return clientAuth{}, &authError{http.StatusUnauthorized, "authentication_error", "missing API key"}
	}

	// Mode 2: "<PROXY_API_KEY>:<refreshToken>".
	if idx := strings.Index(raw, ":"); idx > 0 {
		key, refreshToken := raw[:idx], raw[idx+1:]
		if key == g.cfg.ProxyAPIKey && g.cfg.ProxyAPIKey != "" {
			g.fallback.remember(refreshToken)
			credID := g.fallback.credentialIDFor(refreshToken)
			return clientAuth{
				forcedCredentialID: credID,
				synthesize: func() *credential.Credential {
					return &credential.Credential{
						ID:           credID,
						RefreshToken: refreshToken,
						Tier:         credential.TierFree,
						Available:    true,
					}
				},
			}, nil
		}
	}

	// Mode 1: shared PROXY_API_KEY.
	if g.cfg.ProxyAPIKey != "" && raw == g.cfg.ProxyAPIKey {
		return clientAuth{}, nil
	}

	// Mode 3: gateway-issued kg- key.
	if strings.HasPrefix(raw, apiKeyPrefix) {
		key, ok := g.apiKeys.Lookup(raw)
		if !ok || !key.Enabled {
			return clientAuth{}, &authError{http.StatusUnauthorized, "authentication_error", "invalid or disabled API key"}
		}
		id := key.ID
		return clientAuth{
			allowedCredentials: key.AllowedCredentials,
			allowedModels:      key.AllowedModels,
			bumpAPIKey:         func() { g.apiKeys.Bump(id) },
		}, nil
	}

	return clientAuth{}, &authError{http.StatusUnauthorized, "authentication_error", "invalid API key"}
}

// requireClientAuth wraps a /v1/* handler, rejecting unauthenticated
// requests before any translator/upstream work happens.
func (g *Gateway) requireClientAuth(next func(w http.ResponseWriter, r *http.Request, auth clientAuth)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, authErr := g.resolveClientAuth(r)
		if authErr != nil {
			writeJSONError(w, authErr.status, authErr.kind, authErr.msg)
			return
		}
		if auth.bumpAPIKey != nil {
			auth.bumpAPIKey()
		}
		next(w, r, auth)
	}
}

// requireAdmin wraps an /api/* admin handler, requiring
// "Authorization: Bearer <ADMIN_PASSWORD>".
func (g *Gateway) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if g.cfg.AdminPassword == "" || token != g.cfg.AdminPassword {
			writeJSONError(w, http.StatusUnauthorized, "authentication_error", "invalid admin credentials")
			return
		}
		next(w, r)
	}
}

// acquireCredential applies auth's scoping to the pool's selection contract.
func (g *Gateway) acquireCredential(auth clientAuth, model string) *credential.Credential {
	if auth.forcedCredentialID != "" {
		return g.pool.AcquireID(auth.forcedCredentialID, auth.synthesize)
	}
	if len(auth.allowedCredentials) > 0 {
		return g.pool.AcquireFrom(auth.allowedCredentials, model)
	}
	return g.pool.Acquire(model)
}
