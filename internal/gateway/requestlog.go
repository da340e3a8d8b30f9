package gateway

import (
	"net/http"
	"time"

	"github.com/vendorgate/gateway/internal/compressor"
	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/monitoring"
)

// compressorSettings projects the persisted proxy settings onto the
// compressor's own Settings shape, keeping the compressor package ignorant
// of config.ProxySettings (spec.md §4.6).
func compressorSettings(s config.ProxySettings) compressor.Settings {
	return compressor.Settings{
		Enabled:        s.CompressionEnabled,
		AutoCompress:   s.AutoCompress,
		MaxMessages:    s.MaxMessagesPerSession,
		TokenThreshold: s.TokenThreshold,
		KeepCount:      s.KeepCount,
	}
}

func requestLogEntry(requestID string, r *http.Request, status int, model, credentialID string, start time.Time, errMsg string) monitoring.RequestLogEntry {
	return monitoring.RequestLogEntry{
		Timestamp:    start,
		RequestID:    requestID,
		Path:         r.URL.Path,
		Method:       r.Method,
		StatusCode:   status,
		Model:        model,
		CredentialID: credentialID,
		DurationMs:   time.Since(start).Milliseconds(),
		Error:        errMsg,
	}
}
