package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vendorgate/gateway/internal/compressor"
	"github.com/vendorgate/gateway/internal/config"
	"github.com/vendorgate/gateway/internal/credential"
	"github.com/vendorgate/gateway/internal/fault"
	"github.com/vendorgate/gateway/internal/translator"
	"github.com/vendorgate/gateway/internal/upstream"
)

// upstreamCaller is the subset of *upstream.Client servePipeline depends on,
// narrowed so a fake can stand in for credential-failover tests.
type upstreamCaller interface {
	Do(ctx context.Context, req upstream.Request, preferredEndpoint string) (io.ReadCloser, error)
}

// maxCredentialFailovers bounds how many additional credentials one request
// will be retried against after a disable-triggering upstream error, so a
// pathological pool can't spin a single request forever (spec.md §7
// "credential flagged exhausted... retried on a different credential if one
// is available").
const maxCredentialFailovers = 3

// dialect adapts the shared request pipeline to one wire format: parsing
// the inbound body into a canonical payload, and rendering the canonical
// Response/Sink back out in that format's shape (spec.md §4.2/§4.4).
type dialect interface {
	parse(body []byte, sessions *translator.SessionConversationMap, now time.Time) (model string, stream bool, thinkingEnabled bool, payload translator.CanonicalPayload, err error)
	writeNonStream(w http.ResponseWriter, resp translator.Response, model string)
	newSink(w http.ResponseWriter, flush func(), model string) upstream.Sink
	overloadedStatus() int
	overloadedType() string
}

// servePipeline implements the shared request path behind both
// /v1/chat/completions and /v1/messages: auth scoping, model normalization,
// context compression, credential acquisition, the fault layer, the
// upstream call, and decode-and-render (spec.md §4.1-§4.7 wired together).
func (g *Gateway) servePipeline(w http.ResponseWriter, r *http.Request, auth clientAuth, d dialect) {
	start := time.Now()
	requestID := newRequestID()

	body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxRequestBodySize))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	model, stream, thinkingEnabled, payload, err := d.parse(body, g.sessions, start)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	model = translator.NormalizeModel(model)
	if !translator.IsSupportedModel(model) {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("unknown model %q", model))
		return
	}
	if !auth.modelAllowed(model) {
		writeJSONError(w, http.StatusForbidden, "invalid_request_error", fmt.Sprintf("model %q not permitted for this key", model))
		return
	}

	g.settingsMu.RLock()
	settings := compressorSettings(g.settings)
	limiter := g.limiter
	g.settingsMu.RUnlock()
	if compressor.ShouldTrigger(settings, payload.History, model) {
		payload.History = g.compressor.Compress(r.Context(), payload.ConversationID, payload.History, model, settings.KeepCount)
	}

	if !g.breaker.CanExecute(time.Now()) {
		g.metrics.RecordBreakerOpen()
		writeJSONError(w, d.overloadedStatus(), d.overloadedType(), "upstream circuit breaker is open")
		g.logRequest(requestLogEntry(requestID, r, d.overloadedStatus(), model, "", start, "circuit open"))
		return
	}

	if limiter != nil {
		if ok, reason := limiter.Allow("", time.Now()); !ok {
			g.metrics.RecordRateLimitThrottle()
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_error", reason)
			g.logRequest(requestLogEntry(requestID, r, http.StatusTooManyRequests, model, "", start, reason))
			return
		}
	}

	cred := g.acquireCredential(auth, model)
	if cred == nil {
		writeJSONError(w, http.StatusTooManyRequests, "rate_limit_error", "no credential available")
		g.logRequest(requestLogEntry(requestID, r, http.StatusTooManyRequests, model, "", start, "pool exhausted"))
		return
	}

	if limiter != nil {
		if ok, reason := limiter.Allow(cred.ID, time.Now()); !ok {
			g.pool.Release(cred.ID)
			g.metrics.RecordRateLimitThrottle()
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_error", reason)
			g.logRequest(requestLogEntry(requestID, r, http.StatusTooManyRequests, model, cred.ID, start, reason))
			return
		}
	}

	rc, cred, err := g.callUpstream(r.Context(), auth, model, payload, cred, start)
	defer g.pool.Release(cred.ID)
	if err != nil {
		status, kind := classifyUpstreamErr(err)
		writeJSONError(w, status, kind, err.Error())
		g.logRequest(requestLogEntry(requestID, r, status, model, cred.ID, start, err.Error()))
		return
	}
	defer rc.Close()

	if !stream {
		g.serveNonStream(r.Context(), w, rc, d, model, requestID, r, cred.ID, start, thinkingEnabled)
		return
	}
	g.serveStream(r.Context(), w, rc, d, model, requestID, r, cred.ID, start, thinkingEnabled)
}

// callUpstream issues the upstream call for cred, failing over to another
// credential from the pool when the failure's disposition disables the one
// in use and the auth scope isn't pinned to a single credential (spec.md §7
// "credential flagged exhausted... retried on a different credential if one
// is available", S5). It returns the credential the final attempt used
// (success or not) so the caller can release it; every credential tried
// along the way is released here.
func (g *Gateway) callUpstream(ctx context.Context, auth clientAuth, model string, payload translator.CanonicalPayload, cred *credential.Credential, start time.Time) (io.ReadCloser, *credential.Credential, error) {
	for attempt := 0; ; attempt++ {
		reqBody, err := upstream.BuildRequestBody(payload, model)
		if err != nil {
			return nil, cred, err
		}

		rc, err := g.client.Do(ctx, upstream.Request{
			Region:       cred.Region,
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			MachineFP:    cred.MachineFP,
			Body:         reqBody,
			Truncate:     upstream.TruncateHistoryTiers,
			Sanitize:     upstream.SanitizeBody,
		}, "")
		if err == nil {
			g.breaker.RecordSuccess(time.Now())
			g.pool.RecordSuccess(cred.ID, 0, time.Since(start))
			return rc, cred, nil
		}

		disp := g.applyDisposition(cred.ID, err)

		if !disp.DisableCredential || auth.forcedCredentialID != "" || attempt >= maxCredentialFailovers {
			return nil, cred, err
		}

		g.pool.Release(cred.ID)
		next := g.acquireCredential(auth, model)
		if next == nil || next.ID == cred.ID {
			return nil, cred, err
		}
		log.Debug().Str("failed_credential", cred.ID).Str("next_credential", next.ID).Msg("failing over to another credential")
		cred = next
	}
}

func (g *Gateway) serveNonStream(ctx context.Context, w http.ResponseWriter, rc io.ReadCloser, d dialect, model, requestID string, r *http.Request, credID string, start time.Time, thinkingEnabled bool) {
	col := newCollector()
	dec := upstream.NewDecoder(thinkingEnabled, model)
	if err := dec.Run(ctx, rc, col); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
		g.logRequest(requestLogEntry(requestID, r, http.StatusInternalServerError, model, credID, start, err.Error()))
		return
	}
	resp := col.response()
	g.metrics.RecordAPIUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	d.writeNonStream(w, resp, model)
	g.logRequest(requestLogEntry(requestID, r, http.StatusOK, model, credID, start, ""))
}

func (g *Gateway) serveStream(ctx context.Context, w http.ResponseWriter, rc io.ReadCloser, d dialect, model, requestID string, r *http.Request, credID string, start time.Time, thinkingEnabled bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, config.StreamTotalInactivityTimeout)
	defer cancel()

	sink := d.newSink(w, flush, model)
	if c, ok := sink.(cancelable); ok {
		c.SetCancelFunc(cancel)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		dec := upstream.NewDecoder(thinkingEnabled, model)
		_ = dec.Run(ctx, rc, sink)
	}()

	g.pingUntilDone(sink, done)
	g.logRequest(requestLogEntry(requestID, r, http.StatusOK, model, credID, start, ""))
}

// pinger is satisfied by both SSE encoders (spec.md §5 "Emit a keep-alive
// ping at 25s inactivity").
type pinger interface {
	LastActivity() time.Time
	Ping()
}

// cancelable is satisfied by both SSE encoders: it arms the write-failure
// watchdog so a disconnected client's failed write propagates as stream
// cancellation within config.WriteFailureCancelWindow (spec.md §5
// backpressure policy, §9 Open Question).
type cancelable interface {
	SetCancelFunc(func())
}

func (g *Gateway) pingUntilDone(sink upstream.Sink, done <-chan struct{}) {
	p, ok := sink.(pinger)
	if !ok {
		<-done
		return
	}
	ticker := time.NewTicker(config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if time.Since(p.LastActivity()) >= config.KeepAliveInterval {
				p.Ping()
			}
		}
	}
}

func classifyUpstreamErr(err error) (int, string) {
	switch {
	case errors.Is(err, upstream.ErrQuotaExhausted):
		return http.StatusTooManyRequests, "rate_limit_error"
	case errors.Is(err, upstream.ErrAuthFailed):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, upstream.ErrContentTooLong):
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

// applyDisposition classifies the failure, applies the pool bookkeeping the
// category calls for, and returns the resulting disposition so the caller
// can decide whether to fail over to another credential (spec.md §4.7).
func (g *Gateway) applyDisposition(credID string, err error) fault.Disposition {
	status, _ := classifyUpstreamErr(err)
	if errors.Is(err, upstream.ErrQuotaExhausted) {
		// The client sees quota as 429; the upstream answered 402, which is
		// the status the classifier recognizes as quota exhaustion.
		status = http.StatusPaymentRequired
	}
	category := fault.Classify(status, err.Error())
	disp := fault.DispositionFor(category)

	switch category {
	case fault.CategoryQuota:
		g.pool.RecordError(credID, credential.ErrorQuota)
	case fault.CategoryBanned:
		g.pool.RecordError(credID, credential.ErrorBanned)
	case fault.CategoryAuth:
		g.pool.RecordError(credID, credential.ErrorAuth)
	case fault.CategoryNetwork:
		g.pool.RecordError(credID, credential.ErrorNetwork)
	default:
		g.pool.RecordError(credID, credential.ErrorOther)
	}

	if disp.Retryable {
		log.Debug().Str("credential", credID).Str("category", string(category)).Msg("upstream error classified as retryable")
	}

	// Only a genuine upstream-wide failure trips the breaker; a credential's
	// own quota/ban/auth trouble says nothing about upstream health (spec.md
	// §8 S5: a 402 fan-out leaves the breaker unchanged).
	if category == fault.CategoryServer || category == fault.CategoryNetwork {
		g.breaker.RecordFailure(time.Now())
	}

	return disp
}
