package upstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFingerprintPassesThroughHex64(t *testing.T) {
	fp := strings.Repeat("a", 64)
	assert.Equal(t, fp, NormalizeFingerprint(fp, "refresh"))
}

func TestNormalizeFingerprintDoublesHex32(t *testing.T) {
	fp := strings.Repeat("b", 32)
	got := NormalizeFingerprint(fp, "refresh")
	assert.Equal(t, fp+fp, got)
}

func TestNormalizeFingerprintDerivesFromRefreshToken(t *testing.T) {
	got := NormalizeFingerprint("not-hex-at-all", "my-refresh-token")
	assert.Len(t, got, 64)
}

func TestNormalizeFingerprintEmptyWithNoRefreshToken(t *testing.T) {
	got := NormalizeFingerprint("", "")
	assert.Empty(t, got)
}

func TestBuildAuthHeadersSelectsAgentModeByFingerprint(t *testing.T) {
	withFP := BuildAuthHeaders("token", strings.Repeat("a", 64), "refresh")
	assert.Equal(t, agentModeSpec, withFP.Get("agent-mode"))

	withoutFP := BuildAuthHeaders("token", "", "")
	assert.Equal(t, agentModeVibe, withoutFP.Get("agent-mode"))
}
