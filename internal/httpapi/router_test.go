package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/certdeploy"
	"github.com/edgebridge-io/edgebridge/internal/creds"
	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
	"github.com/edgebridge-io/edgebridge/internal/mcpserver/server"
	"github.com/edgebridge-io/edgebridge/internal/mcpserver/tools"
	"github.com/edgebridge-io/edgebridge/internal/tenant"
)

const testToken = "valid-test-token"

// stubProvider accepts exactly one token and returns a fixed identity.
type stubProvider struct {
	identity tenant.Identity
}

func (p *stubProvider) Authenticate(_ context.Context, token string) (*tenant.Identity, error) {
	if token != testToken {
		return nil, apierr.Unauthorized("token rejected")
	}
	id := p.identity
	id.Customers = append([]string(nil), p.identity.Customers...)
	id.Scopes = append([]string(nil), p.identity.Scopes...)
	return &id, nil
}

// memStore is an in-memory credential store.
type memStore struct {
	mu      sync.RWMutex
	bundles map[string]*creds.Bundle
}

func newMemStore(tenants ...string) *memStore {
	s := &memStore{bundles: make(map[string]*creds.Bundle)}
	for _, name := range tenants {
		s.bundles[name] = &creds.Bundle{
			Tenant:      name,
			Environment: creds.DefaultEnvironment,
			Credentials: edgegrid.Credentials{
				Host:         "https://control.invalid",
				ClientToken:  "akab-client-" + name,
				ClientSecret: "c2VjcmV0LXNpZ25pbmcta2V5",
				AccessToken:  "akab-access-" + name,
			},
		}
	}
	return s
}

func (s *memStore) Get(name string) (*creds.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[name]
	if !ok {
		return nil, creds.ErrNotFound
	}
	return b, nil
}

func (s *memStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bundles))
	for name := range s.bundles {
		out = append(out, name)
	}
	return out
}

func (s *memStore) Swap(name string, b *creds.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[name] = b
	return nil
}

// newTestRouter wires a full gateway router over an in-memory tenant
// manager backed by the given store.
func newTestRouter(t *testing.T, store creds.Store, limit RateLimitInfo) (http.Handler, *Server) {
	t.Helper()

	mgr, err := tenant.NewManager(tenant.Config{
		Provider: &stubProvider{identity: tenant.Identity{
			Subject:   "ops@example.com",
			Customers: []string{"acme"},
			Scopes:    []string{tools.ScopePropertyRead, tools.ScopePurgeRead},
		}},
		Store: store,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	svc := &tools.Services{
		Tenants:   mgr,
		Deploy:    certdeploy.New(certdeploy.Config{}),
		Version:   "0.0.0-test",
		StartedAt: time.Now(),
	}
	srv := &Server{
		Services:  svc,
		MCP:       server.NewMCPServer(svc, nil),
		Store:     store,
		RateLimit: limit,
	}
	return srv.Routes(), srv
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyzWithoutCredentials(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore(), RateLimitInfo{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "no tenant credentials loaded" {
		t.Errorf("status message = %q", body["status"])
	}
}

func TestReadyzWithCredentials(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("status message = %q, want %q", body["status"], "ready")
	}
}

func TestInfoDocument(t *testing.T) {
	limit := RateLimitInfo{WindowSeconds: 60, MaxRequests: 600, Burst: 120}
	router, srv := newTestRouter(t, newMemStore("acme"), limit)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/info", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var info GatewayInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}

	if info.APIVersion != "1.0" {
		t.Errorf("apiVersion = %q, want %q", info.APIVersion, "1.0")
	}
	if info.Version != "0.0.0-test" {
		t.Errorf("version = %q, want %q", info.Version, "0.0.0-test")
	}
	if _, err := time.Parse(time.RFC3339Nano, info.ServerTime); err != nil {
		t.Errorf("serverTime %q is not RFC3339Nano: %v", info.ServerTime, err)
	}

	if want := srv.MCP.Registry().Len(); info.Tools.Count != want {
		t.Errorf("tools.count = %d, want %d", info.Tools.Count, want)
	}
	if info.Tools.Count == 0 {
		t.Error("tools.count = 0, want registered tools")
	}
	found := false
	for _, family := range info.Tools.Families {
		if family == "purge" {
			found = true
		}
	}
	if !found {
		t.Errorf("tools.families = %v, want to include %q", info.Tools.Families, "purge")
	}

	if info.Sessions.Active != 0 {
		t.Errorf("sessions.active = %d, want 0", info.Sessions.Active)
	}

	if info.RateLimit == nil {
		t.Fatal("rateLimit missing, want configured policy")
	}
	if *info.RateLimit != limit {
		t.Errorf("rateLimit = %+v, want %+v", *info.RateLimit, limit)
	}

	if info.Hints == nil {
		t.Fatal("hints missing")
	}
	if info.Hints.RecommendedPurgeBatch != 200 {
		t.Errorf("hints.recommendedPurgeBatch = %d, want 200", info.Hints.RecommendedPurgeBatch)
	}
	if info.Hints.BackoffMsOn429 != 1500 {
		t.Errorf("hints.backoffMsOn429 = %d, want 1500", info.Hints.BackoffMsOn429)
	}
}

func TestInfoOmitsRateLimitWhenDisabled(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/info", nil))

	var info GatewayInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.RateLimit != nil {
		t.Errorf("rateLimit = %+v, want omitted", *info.RateLimit)
	}
}

func TestCorrelationIDGenerated(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID missing, want generated id")
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want %q", got, "corr-123")
	}
}

func TestSessionMiddlewareExposesSessionID(t *testing.T) {
	var got string
	h := SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetSessionID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Mcp-Session-Id", "sess-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "sess-42" {
		t.Errorf("GetSessionID = %q, want %q", got, "sess-42")
	}
}

func TestCorrelationMiddlewareExposesCorrelationID(t *testing.T) {
	var got string
	h := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-456")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "corr-456" {
		t.Errorf("GetCorrelationID = %q, want %q", got, "corr-456")
	}
}

// postPing sends a JSON-RPC ping through the router. Without a session
// it draws an error response, but it still exercises the middleware
// chain including the rate limiter.
func postPing(router http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitExhaustion(t *testing.T) {
	limit := RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 2}
	router, _ := newTestRouter(t, newMemStore("acme"), limit)

	for i := 1; i <= 3; i++ {
		rec := postPing(router, nil)

		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want %q", i, got, "10")
		}
		if got := rec.Header().Get("X-RateLimit-Burst"); got != "2" {
			t.Errorf("request %d: X-RateLimit-Burst = %q, want %q", i, got, "2")
		}
		remaining, err := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining"))
		if err != nil {
			t.Fatalf("request %d: bad X-RateLimit-Remaining %q", i, rec.Header().Get("X-RateLimit-Remaining"))
		}

		if i <= 2 {
			if rec.Code == http.StatusTooManyRequests {
				t.Fatalf("request %d: rate limited within burst: %s", i, rec.Body.String())
			}
			if want := 2 - i; remaining != want {
				t.Errorf("request %d: remaining = %d, want %d", i, remaining, want)
			}
			continue
		}

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, rec.Code)
		}
		if remaining != 0 {
			t.Errorf("request %d: remaining = %d, want 0", i, remaining)
		}

		retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		if err != nil || retryAfter < 1 {
			t.Errorf("Retry-After = %q, want integer >= 1", rec.Header().Get("Retry-After"))
		}
		reset, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
		if err != nil {
			t.Fatalf("bad X-RateLimit-Reset %q", rec.Header().Get("X-RateLimit-Reset"))
		}
		if reset < time.Now().Unix() {
			t.Errorf("X-RateLimit-Reset = %d, want a future timestamp", reset)
		}
		if !strings.Contains(rec.Body.String(), "rate limit exceeded") {
			t.Errorf("body = %s, want rate limit message", rec.Body.String())
		}
	}
}

func TestRateLimitKeyedBySession(t *testing.T) {
	limit := RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 1}
	router, _ := newTestRouter(t, newMemStore("acme"), limit)

	headersA := map[string]string{"Mcp-Session-Id": "session-a"}
	headersB := map[string]string{"Mcp-Session-Id": "session-b"}

	if rec := postPing(router, headersA); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("session-a first request rate limited: %s", rec.Body.String())
	}
	if rec := postPing(router, headersA); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("session-a second request status = %d, want 429", rec.Code)
	}

	// A different session has its own bucket.
	if rec := postPing(router, headersB); rec.Code == http.StatusTooManyRequests {
		t.Errorf("session-b rate limited by session-a's usage: %s", rec.Body.String())
	}
}

func TestRateLimitDisabledWhenUnconfigured(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	for i := 0; i < 20; i++ {
		if rec := postPing(router, nil); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d rate limited with no policy configured", i)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	// Drive one request through first so the request counter has a
	// sample to expose.
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "edgebridge_http_requests_total") {
		t.Error("metrics output missing edgebridge_http_requests_total")
	}
}

func TestRouterMountsMCP(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore("acme"), RateLimitInfo{})

	init := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(init))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("initialize status = %d, body %s", rec.Code, rec.Body.String())
	}
	sessionID := rec.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}

	list := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	req = httptest.NewRequest("POST", "/mcp", strings.NewReader(list))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("tools/list status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result struct {
			Tools []json.RawMessage `json:"tools"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode tools/list response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("tools/list error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result.Tools) == 0 {
		t.Error("tools/list returned no tools")
	}
}
