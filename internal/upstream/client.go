package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/rs/zerolog/log"

	"github.com/vendorgate/gateway/internal/config"
)

// Classified error sentinels the caller (gateway handler) switches on to
// decide whether to refresh a credential, retry, or surface a terminal
// error (spec.md §4.3 "Responses").
var (
	ErrQuotaExhausted = fmt.Errorf("upstream: quota exhausted")
	ErrAuthFailed     = fmt.Errorf("upstream: authentication failed")
	ErrContentTooLong = fmt.Errorf("upstream: content length exceeded")
)

// Request is one forwarded call to the upstream.
type Request struct {
	Region       string
	AccessToken  string
	RefreshToken string
	MachineFP    string
	Body         []byte
	Truncate     func(body []byte, attempt int) []byte // three-tier truncation hook
	Sanitize     func(body []byte) []byte              // aggressive-sanitize hook
}

// Client performs the POST-and-stream call against a set of candidate
// endpoints, applying the spec's retry budgets and backoff policy.
type Client struct {
	httpClient *http.Client
	endpoints  []*Endpoint
	dns        *DNSCache
	backoff    retry.BackoffDelayer
}

// NewClient builds a Client over the two known upstream endpoints. 5xx
// backoff uses the SigV4-SDK's capped-exponential-jitter delayer so the
// retry curve matches what this upstream's own AWS-flavored transport
// expects (spec.md §4.3).
func NewClient(endpoints []*Endpoint) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: config.DefaultUpstreamTimeout},
		endpoints:  endpoints,
		dns:        NewDNSCache(),
		backoff:    retry.NewExponentialJitterBackoff(2 * time.Second),
	}
}

// Do executes req against ordered candidate endpoints honoring per-endpoint
// and global retry budgets, returning the streaming response body on a 2xx
// (spec.md §4.3). The caller owns closing the returned body.
func (c *Client) Do(ctx context.Context, req Request, preferredEndpoint string) (io.ReadCloser, error) {
	ordered := OrderEndpoints(c.endpoints, preferredEndpoint, time.Now())
	if len(ordered) == 0 {
		return nil, fmt.Errorf("upstream: no endpoints configured")
	}

	globalAttempts := 0
	truncationTier := 0
	body := req.Body

	for _, ep := range ordered {
		for attempt := 0; attempt < config.DefaultPerEndpointRetryBudget+1; attempt++ {
			if globalAttempts >= config.DefaultGlobalRetryBudget {
				return nil, fmt.Errorf("upstream: exhausted global retry budget")
			}
			globalAttempts++

			resp, err := c.attempt(ctx, ep, req, body)
			if err != nil {
				log.Debug().Err(err).Str("endpoint", ep.Name).Msg("upstream attempt failed")
				ep.RecordError(time.Now())
				continue
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				resp.Body.Close()
				ep.RecordError(time.Now())
				time.Sleep(1 * time.Second)
				continue

			case resp.StatusCode == http.StatusPaymentRequired:
				resp.Body.Close()
				return nil, ErrQuotaExhausted

			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				resp.Body.Close()
				return nil, ErrAuthFailed

			case resp.StatusCode == http.StatusBadRequest:
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLogLen*4))
				resp.Body.Close()
				if isContentLengthComplaint(string(respBody)) {
					// Tiers (50% -> 25% -> none) must be tried in order
					// across the whole call, not just within one endpoint's
					// retry budget, so track the tier independently of the
					// per-endpoint attempt counter (spec.md §4.2).
					if req.Truncate != nil && truncationTier < 3 {
						body = req.Truncate(req.Body, truncationTier)
						truncationTier++
						ep.RecordError(time.Now())
						continue
					}
					return nil, ErrContentTooLong
				}
				if req.Sanitize != nil {
					body = req.Sanitize(req.Body)
					ep.RecordError(time.Now())
					continue
				}
				return nil, fmt.Errorf("upstream: bad request: %s", truncateForLog(string(respBody)))

			case resp.StatusCode >= 500:
				resp.Body.Close()
				ep.RecordError(time.Now())
				if delay, err := c.backoff.BackoffDelay(attempt, nil); err == nil {
					time.Sleep(delay)
				}
				continue

			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				ep.RecordSuccess(time.Now(), 0)
				return resp.Body, nil

			default:
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLogLen))
				resp.Body.Close()
				return nil, fmt.Errorf("upstream: unexpected status %d: %s", resp.StatusCode, truncateForLog(string(respBody)))
			}
		}
	}

	return nil, fmt.Errorf("upstream: all endpoints exhausted")
}

func (c *Client) attempt(ctx context.Context, ep *Endpoint, req Request, body []byte) (*http.Response, error) {
	url := strings.ReplaceAll(ep.URLTmpl, "{region}", req.Region)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	headers := BuildAuthHeaders(req.AccessToken, req.MachineFP, req.RefreshToken)
	httpReq.Header = headers

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", ep.Name, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		ep.RecordSuccess(start, time.Since(start))
	}
	return resp, nil
}

func isContentLengthComplaint(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "content length") || strings.Contains(lower, "too long") ||
		strings.Contains(lower, "context length") || strings.Contains(lower, "maximum context")
}

func truncateForLog(s string) string {
	if len(s) > config.MaxErrorBodyLogLen {
		return s[:config.MaxErrorBodyLogLen]
	}
	return s
}
