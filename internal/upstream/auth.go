package upstream

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// agentModeSpec/agentModeVibe select the `agent-mode` header value
// (spec.md §4.3: "select agent-mode = spec if a machine fingerprint was
// available ... else vibe").
const (
	agentModeSpec = "spec"
	agentModeVibe = "vibe"
)

// BuildAuthHeaders constructs the per-attempt request headers: a bearer
// token, a fresh invocation id, and the derived agent-mode/fingerprint
// pair (spec.md §4.3).
func BuildAuthHeaders(accessToken, machineFP, refreshToken string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+accessToken)
	h.Set("Amz-Sdk-Invocation-Id", uuid.NewString())
	h.Set("Content-Type", "application/x-amz-json-1.0")

	fp := NormalizeFingerprint(machineFP, refreshToken)
	if fp != "" {
		h.Set("agent-mode", agentModeSpec)
		h.Set("x-machine-fingerprint", fp)
	} else {
		h.Set("agent-mode", agentModeVibe)
	}
	return h
}

// NormalizeFingerprint implements the machine-fingerprint normalization
// rule: a 64-hex string passes through; a 32-hex UUID-shaped string
// doubles; otherwise derive one from SHA-256 of
// "KotlinNativeAPI/<refreshToken>" (spec.md §4.3).
func NormalizeFingerprint(machineFP, refreshToken string) string {
	if isHex(machineFP, 64) {
		return strings.ToLower(machineFP)
	}
	if isHex(machineFP, 32) {
		lower := strings.ToLower(machineFP)
		return lower + lower
	}
	if refreshToken == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("KotlinNativeAPI/" + refreshToken))
	return hex.EncodeToString(sum[:])
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
