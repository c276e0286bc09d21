package edgegrid

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/backoff"
	"github.com/edgebridge-io/edgebridge/internal/breaker"
	"github.com/edgebridge-io/edgebridge/internal/metrics"
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxInFlight bounds concurrent requests through one client,
	// which is one credential bundle and therefore one tenant.
	DefaultMaxInFlight = 10
)

// sharedTransport pools TCP connections per host across all clients.
// Tenants with the same API host share sockets; tenants with different
// hosts never do, because pooling is keyed by host.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	ForceAttemptHTTP2:   true,
}

// Options tunes a client. Zero fields take defaults.
type Options struct {
	Transport   http.RoundTripper
	Breakers    *breaker.HostSet
	Backoff     backoff.Policy
	Timeout     time.Duration
	MaxInFlight int
}

// Client issues signed requests against one credential bundle's host.
// Construction is cheap: transports and breakers are shared, so callers
// may build a client per operation.
type Client struct {
	creds   Credentials
	signer  *Signer
	http    *http.Client
	breaker *breaker.Breaker
	policy  backoff.Policy
	timeout time.Duration
	sem     chan struct{}
	scheme  string
	host    string
}

// New creates a signed client for the given credentials.
func New(creds Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	scheme, host := "https", creds.Host
	if strings.Contains(creds.Host, "://") {
		u, err := url.Parse(creds.Host)
		if err != nil {
			return nil, fmt.Errorf("parsing credential host: %w", err)
		}
		scheme, host = u.Scheme, u.Host
	}

	transport := opts.Transport
	if transport == nil {
		transport = sharedTransport
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = defaultBreakers
	}
	policy := opts.Backoff
	if policy.MaxAttempts == 0 {
		policy = backoff.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	return &Client{
		creds:   creds,
		signer:  NewSigner(creds),
		http:    &http.Client{Transport: transport},
		breaker: breakers.For(host),
		policy:  policy,
		timeout: timeout,
		sem:     make(chan struct{}, maxInFlight),
		scheme:  scheme,
		host:    host,
	}, nil
}

var defaultBreakers = breaker.NewHostSet(breaker.Settings{
	OnStateChange: func(host string, _, to breaker.State) {
		metrics.BreakerTransitions.WithLabelValues(host, to.String()).Inc()
	},
})

// Request describes one upstream call.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header
	// Idempotent marks a POST as safe to retry. GET, HEAD, PUT, and
	// DELETE retry regardless.
	Idempotent bool
}

// Response is the upstream reply with the body drained and the
// rate-limit headers parsed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RateLimit  apierr.RateLimit
}

// Host returns the host this client signs for.
func (c *Client) Host() string {
	return c.host
}

// Do sends the request, retrying retryable failures with full-jitter
// backoff. Each attempt is re-signed with a fresh timestamp and nonce.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	u := c.buildURL(req.Path, req.Query)
	canRetry := retryableMethod(req.Method, req.Idempotent)

	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, req, u)
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) || errors.Is(err, breaker.ErrProbeLimit) {
				// Shed load fast while the host is tripped.
				return nil, apierr.Transient(fmt.Sprintf("host %s unavailable", c.host), err)
			}
			if ctx.Err() != nil {
				return nil, apierr.Wrap(apierr.KindTimeout, fmt.Sprintf("%s %s canceled", req.Method, req.Path), ctx.Err())
			}
			lastErr = err
			if !canRetry || attempt == c.policy.MaxAttempts-1 {
				break
			}
			log.Debug().Str("host", c.host).Str("path", req.Path).Int("attempt", attempt+1).
				Err(err).Msg("retrying upstream request after network error")
			if err := c.policy.Wait(ctx, attempt); err != nil {
				return nil, apierr.Wrap(apierr.KindTimeout, "retry wait canceled", err)
			}
			continue
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		apiErr := c.errorFor(req.Method, req.Path, resp)
		if !canRetry || !retryableStatus(resp.StatusCode) || attempt == c.policy.MaxAttempts-1 {
			return nil, apiErr
		}
		lastErr = apiErr

		var wait time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			wait = throttleWait(resp)
		} else {
			wait = c.policy.Delay(attempt)
		}
		log.Debug().Str("host", c.host).Str("path", req.Path).Int("attempt", attempt+1).
			Int("status", resp.StatusCode).Dur("wait", wait).Msg("retrying upstream request")
		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil, apierr.Wrap(apierr.KindTimeout, "retry wait canceled", err)
		}
	}

	if _, ok := apierr.AsError(lastErr); ok {
		return nil, lastErr
	}
	return nil, apierr.Transient(
		fmt.Sprintf("%s %s failed after %d attempts", req.Method, req.Path, c.policy.MaxAttempts), lastErr)
}

// DoJSON sends the request and decodes a JSON body into out when the
// call succeeds.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, apierr.Wrap(apierr.KindUpstream,
				fmt.Sprintf("decoding %s %s response", req.Method, req.Path), err)
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request, u *url.URL) (*Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	gen, err := c.breaker.Acquire()
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, u.String(), bytes.NewReader(req.Body))
	if err != nil {
		c.breaker.Record(gen, true)
		return nil, err
	}
	for name, values := range req.Header {
		httpReq.Header[name] = values
	}
	if len(req.Body) > 0 {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("Authorization", c.signer.Sign(httpReq, req.Body))

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	metrics.UpstreamLatency.WithLabelValues(c.host, req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.breaker.Record(gen, false)
		metrics.UpstreamRequests.WithLabelValues(c.host, req.Method, "error").Inc()
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.breaker.Record(gen, false)
		metrics.UpstreamRequests.WithLabelValues(c.host, req.Method, "error").Inc()
		return nil, err
	}

	c.breaker.Record(gen, httpResp.StatusCode < 500)
	metrics.UpstreamRequests.WithLabelValues(c.host, req.Method, statusClass(httpResp.StatusCode)).Inc()

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		RateLimit:  parseRateLimit(httpResp.Header),
	}, nil
}

func (c *Client) buildURL(path string, query url.Values) *url.URL {
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	if c.creds.AccountSwitchKey != "" {
		q.Set("accountSwitchKey", c.creds.AccountSwitchKey)
	}
	u := &url.URL{Scheme: c.scheme, Host: c.host, Path: path}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

func (c *Client) errorFor(method, path string, resp *Response) error {
	problem := parseProblem(resp.Header, resp.Body)
	msg := fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)
	if problem != nil && problem.Title != "" {
		msg += ": " + problem.Title
	}

	var e *apierr.Error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		e = apierr.Validation("%s", msg)
	case http.StatusUnauthorized:
		e = apierr.Unauthorized(msg)
	case http.StatusForbidden:
		reason := ""
		if problem != nil {
			reason = problem.Detail
		}
		e = apierr.Forbidden(msg, reason)
	case http.StatusNotFound:
		e = apierr.NotFound("%s", msg)
	case http.StatusConflict:
		e = apierr.Conflict("%s", msg)
	case http.StatusTooManyRequests:
		rl := resp.RateLimit
		e = apierr.RateLimited(msg, &rl, throttleWait(resp))
	default:
		if resp.StatusCode >= 500 {
			e = apierr.Transient(msg, nil)
		} else {
			e = apierr.Upstream(msg, problem)
		}
	}
	e.Problem = problem
	return e
}

func retryableMethod(method string, idempotent bool) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return idempotent
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// throttleWait picks the wait after a 429: Retry-After when present,
// then the rate-limit reset plus a one-second buffer, then 60s.
func throttleWait(resp *Response) time.Duration {
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		return d
	}
	return resp.RateLimit.RetryHint(time.Now())
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func parseRateLimit(h http.Header) apierr.RateLimit {
	var rl apierr.RateLimit
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		rl.Limit, _ = strconv.Atoi(v)
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		rl.Remaining, _ = strconv.Atoi(v)
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			rl.Reset = time.Unix(secs, 0)
		}
	}
	if v := h.Get("X-RateLimit-Window"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			rl.Window = time.Duration(secs) * time.Second
		}
	}
	return rl
}

func parseProblem(h http.Header, body []byte) *apierr.Problem {
	if len(body) == 0 || !strings.Contains(h.Get("Content-Type"), "json") {
		return nil
	}
	var p apierr.Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	if p.Type == "" && p.Title == "" && p.Detail == "" && len(p.Errors) == 0 {
		return nil
	}
	return &p
}
