package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebridge-io/edgebridge/internal/cache"
	"github.com/edgebridge-io/edgebridge/internal/certdeploy"
	"github.com/edgebridge-io/edgebridge/internal/creds"
	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
	"github.com/edgebridge-io/edgebridge/internal/purge"
	"github.com/edgebridge-io/edgebridge/internal/tenant"
)

// stubProvider accepts any token and mints the configured identity.
type stubProvider struct {
	mu       sync.Mutex
	identity tenant.Identity
}

func (p *stubProvider) Authenticate(ctx context.Context, token string) (*tenant.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.identity
	id.Customers = append([]string(nil), p.identity.Customers...)
	id.Scopes = append([]string(nil), p.identity.Scopes...)
	return &id, nil
}

func (p *stubProvider) setCustomers(customers ...string) {
	p.mu.Lock()
	p.identity.Customers = customers
	p.mu.Unlock()
}

func (p *stubProvider) setScopes(scopes ...string) {
	p.mu.Lock()
	p.identity.Scopes = scopes
	p.mu.Unlock()
}

// memStore keeps credential bundles in a map.
type memStore struct {
	mu      sync.Mutex
	bundles map[string]*creds.Bundle
}

func newMemStore(bundles ...*creds.Bundle) *memStore {
	s := &memStore{bundles: make(map[string]*creds.Bundle)}
	for _, b := range bundles {
		s.bundles[b.Tenant] = b
	}
	return s
}

func (s *memStore) Get(tenantID string) (*creds.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[tenantID]
	if !ok {
		return nil, creds.ErrNotFound
	}
	return b, nil
}

func (s *memStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.bundles))
	for t := range s.bundles {
		out = append(out, t)
	}
	return out
}

func (s *memStore) Swap(tenantID string, b *creds.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[tenantID] = b
	return nil
}

// countingMux fronts the fixture mux and records hits per method+path.
type countingMux struct {
	mu     sync.Mutex
	counts map[string]int
	mux    *http.ServeMux
}

func newCountingMux() *countingMux {
	return &countingMux{counts: make(map[string]int), mux: http.NewServeMux()}
}

func (m *countingMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.counts[r.Method+" "+r.URL.Path]++
	m.mu.Unlock()
	m.mux.ServeHTTP(w, r)
}

func (m *countingMux) count(methodPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[methodPath]
}

func serveJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func allScopes() []string {
	return []string{
		ScopePropertyRead, ScopeDNSRead,
		ScopePurgeWrite, ScopePurgeRead,
		ScopeCertRead, ScopeCertDeploy,
		ScopeCacheAdmin,
	}
}

// toolEnv wires a registry against a fixture back-end: two tenants with
// live credential bundles, a response cache, an idle purge pipeline, and
// a fast-polling deployment coordinator.
type toolEnv struct {
	provider *stubProvider
	manager  *tenant.Manager
	cache    *cache.Cache
	deploy   *certdeploy.Coordinator
	registry *Registry
	services *Services
	session  *tenant.Session
	upstream *countingMux
	logger   zerolog.Logger
}

func newToolEnv(t *testing.T) *toolEnv {
	t.Helper()

	um := newCountingMux()
	srv := httptest.NewServer(um)
	t.Cleanup(srv.Close)

	bundle := func(tenantID, environment string) *creds.Bundle {
		return &creds.Bundle{
			Tenant:      tenantID,
			Environment: environment,
			Credentials: edgegrid.Credentials{
				ClientToken:  "akab-client-" + tenantID,
				AccessToken:  "akab-access-" + tenantID,
				ClientSecret: "dGVzdC1zaWduaW5nLXNlY3JldA==",
				Host:         srv.URL,
			},
		}
	}
	store := newMemStore(bundle("acme", "production"), bundle("globex", "staging"))

	provider := &stubProvider{identity: tenant.Identity{
		Subject:   "ops@example.com",
		Customers: []string{"acme", "globex"},
		Scopes:    allScopes(),
	}}

	manager, err := tenant.NewManager(tenant.Config{Provider: provider, Store: store})
	require.NoError(t, err)
	t.Cleanup(manager.Stop)

	respCache, err := cache.New(cache.Options{MaxEntries: 128, MaxBytes: 1 << 20, DefaultTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = respCache.Close() })

	// Left unstarted so submissions stay queued and observable.
	purgeSvc, err := purge.NewService(purge.Config{
		Clients: func(string) (purge.Doer, error) {
			return nil, errors.New("no purge transport in tests")
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = purgeSvc.Shutdown(ctx)
	})

	coordinator := certdeploy.New(certdeploy.Config{PollInterval: 2 * time.Millisecond, PollBudget: 2 * time.Second})
	t.Cleanup(coordinator.Close)

	sess, err := manager.Authenticate(context.Background(), "test-token")
	require.NoError(t, err)
	require.Equal(t, "acme", sess.Current())

	registry := NewRegistry()
	RegisterAllTools(registry)

	env := &toolEnv{
		provider: provider,
		manager:  manager,
		cache:    respCache,
		deploy:   coordinator,
		registry: registry,
		session:  sess,
		upstream: um,
		logger:   zerolog.Nop(),
	}
	env.services = &Services{
		Tenants:   manager,
		Cache:     respCache,
		Purge:     purgeSvc,
		Deploy:    coordinator,
		Version:   "1.2.3-test",
		StartedAt: time.Now(),
	}
	return env
}

func (env *toolEnv) handle(pattern string, h http.HandlerFunc) {
	env.upstream.mux.HandleFunc(pattern, h)
}

func (env *toolEnv) toolCtx(sess *tenant.Session) *ToolContext {
	return NewToolContext(&env.logger, sess, env.services)
}

// call runs a tool expecting success and decodes the text content.
func (env *toolEnv) call(t *testing.T, sess *tenant.Session, name, args string) map[string]any {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	result, err := env.registry.Call(context.Background(), env.toolCtx(sess), CallRequest{Name: name, Arguments: raw})
	require.NoError(t, err, "tool %s", name)

	callResult, ok := result.(CallResult)
	require.True(t, ok, "expected CallResult, got %T", result)
	require.Len(t, callResult.Content, 1)
	require.Equal(t, "text", callResult.Content[0].Type)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(callResult.Content[0].Text), &out))
	return out
}

// callErr runs a tool expecting a ToolError.
func (env *toolEnv) callErr(t *testing.T, sess *tenant.Session, name, args string) *ToolError {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	_, err := env.registry.Call(context.Background(), env.toolCtx(sess), CallRequest{Name: name, Arguments: raw})
	require.Error(t, err, "tool %s", name)

	var te *ToolError
	require.True(t, errors.As(err, &te), "expected ToolError, got %T: %v", err, err)
	return te
}

func TestCustomerTools(t *testing.T) {
	env := newToolEnv(t)

	out := env.call(t, env.session, "customer.list", "")
	customers := out["customers"].([]any)
	require.Len(t, customers, 2)
	first := customers[0].(map[string]any)
	assert.Equal(t, "acme", first["tenant"])
	assert.Equal(t, "production", first["environment"])
	assert.Equal(t, true, first["current"])
	second := customers[1].(map[string]any)
	assert.Equal(t, "globex", second["tenant"])
	assert.Equal(t, "staging", second["environment"])

	out = env.call(t, env.session, "customer.current", "")
	assert.Equal(t, "acme", out["tenant"])

	out = env.call(t, env.session, "customer.switch", `{"customer":"globex"}`)
	assert.Equal(t, "globex", out["customer"])
	assert.Equal(t, true, out["switched"])

	out = env.call(t, env.session, "customer.current", "")
	assert.Equal(t, "globex", out["tenant"])
	assert.Equal(t, "staging", out["environment"])
}

func TestCustomerSwitchUnknownTenant(t *testing.T) {
	env := newToolEnv(t)

	te := env.callErr(t, env.session, "customer.switch", `{"customer":"phantom"}`)
	assert.Equal(t, "NOT_FOUND", te.Code)
	assert.Contains(t, te.Message, "phantom")

	// a denied switch leaves the current context alone
	out := env.call(t, env.session, "customer.current", "")
	assert.Equal(t, "acme", out["tenant"])
}

func TestPropertyListCachesUpstreamReads(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/papi/v1/properties", serveJSON(`{"properties":{"items":[
		{"propertyId":"prp_1","propertyName":"www-acme","latestVersion":7},
		{"propertyId":"prp_2","propertyName":"assets-acme","latestVersion":2}
	]}}`))

	out := env.call(t, env.session, "property.list", "")
	props := out["properties"].([]any)
	require.Len(t, props, 2)
	assert.Equal(t, "prp_1", props[0].(map[string]any)["propertyId"])
	_, hasNext := out["next"]
	assert.False(t, hasNext)

	// the second read is a cache hit, not another upstream call
	env.call(t, env.session, "property.list", "")
	assert.Equal(t, 1, env.upstream.count("GET /papi/v1/properties"))
	assert.GreaterOrEqual(t, env.cache.Stats().Hits, int64(1))
}

func TestPropertyGetAndActivations(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/papi/v1/properties/prp_1", serveJSON(
		`{"properties":{"items":[{"propertyId":"prp_1","propertyName":"www-acme","contractId":"ctr_C-1","latestVersion":7,"productionVersion":6}]}}`))
	env.handle("/papi/v1/properties/prp_1/activations", serveJSON(
		`{"activations":{"items":[{"activationId":"atv_1","propertyVersion":6,"network":"PRODUCTION","status":"ACTIVE"}]}}`))

	out := env.call(t, env.session, "property.get", `{"propertyId":"prp_1"}`)
	assert.Equal(t, "prp_1", out["propertyId"])
	assert.Equal(t, "www-acme", out["propertyName"])
	assert.Equal(t, float64(7), out["latestVersion"])

	out = env.call(t, env.session, "property.activations", `{"propertyId":"prp_1"}`)
	assert.Equal(t, "prp_1", out["propertyId"])
	acts := out["activations"].([]any)
	require.Len(t, acts, 1)
	assert.Equal(t, "ACTIVE", acts[0].(map[string]any)["status"])
}

func TestPropertyHostnamesDefaultsToLatestVersion(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/papi/v1/properties/prp_1", serveJSON(
		`{"properties":{"items":[{"propertyId":"prp_1","propertyName":"www-acme","latestVersion":7}]}}`))
	env.handle("/papi/v1/properties/prp_1/versions/7/hostnames", serveJSON(
		`{"hostnames":{"items":[{"cnameFrom":"www.acme.com","cnameTo":"www.acme.com.edgekey.net","certEnrollmentId":1234,"cnameType":"EDGE_HOSTNAME"}]}}`))

	out := env.call(t, env.session, "property.hostnames", `{"propertyId":"prp_1"}`)
	assert.Equal(t, "prp_1", out["propertyId"])
	assert.Equal(t, float64(7), out["version"])

	hostnames := out["hostnames"].([]any)
	require.Len(t, hostnames, 1)
	hn := hostnames[0].(map[string]any)
	assert.Equal(t, "www.acme.com", hn["cnameFrom"])
	assert.Equal(t, float64(1234), hn["certEnrollmentId"])
	// fields the gateway does not model survive the round trip
	assert.Equal(t, "EDGE_HOSTNAME", hn["cnameType"])
}

func TestDNSTools(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/config-dns/v2/zones", serveJSON(
		`{"zones":[{"zone":"acme.example.com","type":"PRIMARY","activationState":"ACTIVE"}]}`))
	env.handle("/config-dns/v2/zones/acme.example.com", serveJSON(
		`{"zone":"acme.example.com","type":"PRIMARY","activationState":"ACTIVE","signAndServe":true}`))
	env.handle("/config-dns/v2/zones/acme.example.com/recordsets", serveJSON(
		`{"recordsets":[
			{"name":"www.acme.example.com","type":"A","ttl":300,"rdata":["192.0.2.1"]},
			{"name":"acme.example.com","type":"NS","ttl":86400,"rdata":["ns1.example.net.","ns2.example.net."]}
		]}`))

	out := env.call(t, env.session, "dns.zones", "")
	zones := out["zones"].([]any)
	require.Len(t, zones, 1)
	assert.Equal(t, "acme.example.com", zones[0].(map[string]any)["zone"])

	out = env.call(t, env.session, "dns.zone", `{"zone":"acme.example.com"}`)
	assert.Equal(t, "PRIMARY", out["type"])
	assert.Equal(t, true, out["signAndServe"])

	out = env.call(t, env.session, "dns.recordsets", `{"zone":"acme.example.com"}`)
	assert.Equal(t, "acme.example.com", out["zone"])
	sets := out["recordSets"].([]any)
	require.Len(t, sets, 2)
	assert.Equal(t, "A", sets[0].(map[string]any)["type"])
	assert.Equal(t, float64(300), sets[0].(map[string]any)["ttl"])
}

func TestPageValidation(t *testing.T) {
	env := newToolEnv(t)

	te := env.callErr(t, env.session, "dns.zones", `{"limit":5000}`)
	assert.Equal(t, "VALIDATION", te.Code)
	assert.Contains(t, te.Message, "between 1 and 1000")

	te = env.callErr(t, env.session, "property.list", `{"offset":-1}`)
	assert.Equal(t, "VALIDATION", te.Code)
}

func TestPurgeSubmitAndStatus(t *testing.T) {
	env := newToolEnv(t)

	out := env.call(t, env.session, "purge.url",
		`{"objects":["https://www.acme.com/a.css","https://www.acme.com/b.css"]}`)
	opID, _ := out["operationId"].(string)
	require.NotEmpty(t, opID)
	assert.Equal(t, "acme", out["tenant"])
	assert.Equal(t, "url", out["kind"])
	assert.Equal(t, "production", out["network"])
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, float64(2), out["totalObjects"])

	out = env.call(t, env.session, "purge.status", fmt.Sprintf(`{"operationId":%q}`, opID))
	assert.Equal(t, opID, out["operationId"])
	assert.Equal(t, "pending", out["status"])
}

func TestPurgeValidation(t *testing.T) {
	env := newToolEnv(t)

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"relative url", "purge.url", `{"objects":["/assets/a.css"]}`},
		{"empty objects", "purge.url", `{"objects":[]}`},
		{"non-numeric cpcode", "purge.cpcode", `{"objects":["cp-12345"]}`},
		{"blank tag", "purge.tag", `{"objects":["  "]}`},
		{"bad network", "purge.url", `{"network":"prod","objects":["https://www.acme.com/"]}`},
		{"bad operation id", "purge.status", `{"operationId":"not-a-uuid"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			te := env.callErr(t, env.session, tc.tool, tc.args)
			assert.Equal(t, "VALIDATION", te.Code)
		})
	}
}

func TestPurgeStatusInvisibleAcrossTenants(t *testing.T) {
	env := newToolEnv(t)

	out := env.call(t, env.session, "purge.url", `{"objects":["https://www.acme.com/a.css"]}`)
	opID := out["operationId"].(string)

	// a session without the acme context cannot see the operation
	env.provider.setCustomers("globex")
	outsider, err := env.manager.Authenticate(context.Background(), "other-token")
	require.NoError(t, err)

	te := env.callErr(t, outsider, "purge.status", fmt.Sprintf(`{"operationId":%q}`, opID))
	assert.Equal(t, "NOT_FOUND", te.Code)
}

func TestPurgeDashboard(t *testing.T) {
	env := newToolEnv(t)

	env.call(t, env.session, "purge.tag", `{"objects":["homepage","navbar"],"network":"staging"}`)

	out := env.call(t, env.session, "purge.dashboard", "")
	assert.Equal(t, "acme", out["tenant"])
	assert.Equal(t, float64(1), out["active"])
}

func TestPurgeAdvisorFlagsHeavyDomains(t *testing.T) {
	env := newToolEnv(t)

	objects := make([]string, 120)
	for i := range objects {
		objects[i] = fmt.Sprintf("https://www.acme.com/assets/v%d.css", i)
	}
	args, err := json.Marshal(map[string]any{"objects": objects})
	require.NoError(t, err)
	env.call(t, env.session, "purge.url", string(args))

	out := env.call(t, env.session, "purge.advisor", "")
	assert.Equal(t, "acme", out["customer"])
	suggestions := out["suggestions"].([]any)
	require.Len(t, suggestions, 1)
	s := suggestions[0].(map[string]any)
	assert.Equal(t, "www.acme.com", s["domain"])
	assert.Equal(t, float64(120), s["urlCount"])
	assert.Equal(t, "cpcode", s["suggestedKind"])
}

func TestPurgeAdvisorQuietQueue(t *testing.T) {
	env := newToolEnv(t)

	out := env.call(t, env.session, "purge.advisor", "")
	suggestions, ok := out["suggestions"].([]any)
	require.True(t, ok, "suggestions must be present even when empty")
	assert.Empty(t, suggestions)
}

func TestCertEnrollmentTools(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/cps/v2/enrollments", serveJSON(
		`{"enrollments":[
			{"enrollmentId":1234,"cn":"www.acme.com","status":"active"},
			{"enrollmentId":5678,"cn":"api.acme.com","status":"new"}
		]}`))
	env.handle("/cps/v2/enrollments/1234", serveJSON(
		`{"enrollmentId":1234,"cn":"www.acme.com","sans":["acme.com"],"status":"active","domains":[{"name":"www.acme.com","validated":true},{"name":"acme.com","validated":false}]}`))

	out := env.call(t, env.session, "cert.enrollments", "")
	enrollments := out["enrollments"].([]any)
	require.Len(t, enrollments, 2)
	assert.Equal(t, float64(1234), enrollments[0].(map[string]any)["enrollmentId"])

	out = env.call(t, env.session, "cert.enrollment", `{"enrollmentId":1234}`)
	assert.Equal(t, "www.acme.com", out["cn"])
	domains := out["domains"].([]any)
	require.Len(t, domains, 2)
	assert.Equal(t, false, domains[1].(map[string]any)["validated"])
}

func TestCertDeployStatusRollback(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/cps/v2/enrollments/1234", serveJSON(
		`{"enrollmentId":1234,"cn":"www.acme.com","status":"active","domains":[{"name":"www.acme.com","validated":true}]}`))
	env.handle("/cps/v2/enrollments/1234/deployments", serveJSON(
		`{"deploymentId":9001,"network":"production","status":"pending"}`))
	env.handle("/cps/v2/enrollments/1234/deployments/9001", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"deploymentId":9001,"network":"production","status":"active"}`)
	})

	out := env.call(t, env.session, "cert.deploy", `{"enrollmentId":1234,"network":"production"}`)
	assert.Equal(t, "acme", out["tenant"])
	assert.Equal(t, float64(1234), out["enrollmentId"])
	assert.Equal(t, "pending", out["status"])

	require.Eventually(t, func() bool {
		view, err := env.deploy.Status(1234)
		return err == nil && view.Status == certdeploy.StatusDeployed
	}, 5*time.Second, 5*time.Millisecond)

	out = env.call(t, env.session, "cert.status", `{"enrollmentId":1234}`)
	assert.Equal(t, "deployed", out["status"])
	assert.Equal(t, float64(100), out["progress"])
	assert.Equal(t, float64(9001), out["deploymentId"])

	out = env.call(t, env.session, "cert.rollback", `{"enrollmentId":1234}`)
	assert.Equal(t, "rolled-back", out["status"])
	assert.Equal(t, 1, env.upstream.count("DELETE /cps/v2/enrollments/1234/deployments/9001"))
}

func TestCertStatusInvisibleAcrossTenants(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/cps/v2/enrollments/1234", serveJSON(
		`{"enrollmentId":1234,"cn":"www.acme.com","status":"active","domains":[{"name":"www.acme.com","validated":true}]}`))
	env.handle("/cps/v2/enrollments/1234/deployments", serveJSON(
		`{"deploymentId":9001,"network":"staging","status":"pending"}`))
	env.handle("/cps/v2/enrollments/1234/deployments/9001", serveJSON(
		`{"deploymentId":9001,"network":"staging","status":"active"}`))

	env.call(t, env.session, "cert.deploy", `{"enrollmentId":1234,"network":"staging"}`)

	env.provider.setCustomers("globex")
	outsider, err := env.manager.Authenticate(context.Background(), "other-token")
	require.NoError(t, err)

	te := env.callErr(t, outsider, "cert.status", `{"enrollmentId":1234}`)
	assert.Equal(t, "NOT_FOUND", te.Code)
	te = env.callErr(t, outsider, "cert.rollback", `{"enrollmentId":1234}`)
	assert.Equal(t, "NOT_FOUND", te.Code)
}

func TestCacheStatsAndFlush(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/papi/v1/properties", serveJSON(
		`{"properties":{"items":[{"propertyId":"prp_1","propertyName":"www-acme","latestVersion":7}]}}`))

	env.call(t, env.session, "property.list", "")

	out := env.call(t, env.session, "cache.stats", `{"customer":"acme"}`)
	cacheStats := out["cache"].(map[string]any)
	assert.GreaterOrEqual(t, cacheStats["entries"].(float64), float64(1))
	tenantStats := out["customer"].(map[string]any)
	assert.Equal(t, "acme", tenantStats["tenant"])
	assert.GreaterOrEqual(t, tenantStats["entries"].(float64), float64(1))

	out = env.call(t, env.session, "cache.flush", "")
	assert.Equal(t, "acme", out["customer"])
	assert.GreaterOrEqual(t, out["flushed"].(float64), float64(1))

	// the flush forces the next read back upstream
	env.call(t, env.session, "property.list", "")
	assert.Equal(t, 2, env.upstream.count("GET /papi/v1/properties"))
}

func TestCacheFlushPatternStaysInTenantNamespace(t *testing.T) {
	env := newToolEnv(t)
	env.handle("/papi/v1/properties", serveJSON(
		`{"properties":{"items":[{"propertyId":"prp_1","propertyName":"www-acme","latestVersion":7}]}}`))
	env.handle("/config-dns/v2/zones", serveJSON(
		`{"zones":[{"zone":"acme.example.com","type":"PRIMARY"}]}`))

	env.call(t, env.session, "property.list", "")
	env.call(t, env.session, "dns.zones", "")

	out := env.call(t, env.session, "cache.flush", `{"pattern":"property:*"}`)
	assert.Equal(t, float64(1), out["flushed"])

	// the zone entry survives a property-scoped flush
	entries, _ := env.cache.TenantUsage("acme")
	assert.Equal(t, 1, entries)
}

func TestServerInfo(t *testing.T) {
	env := newToolEnv(t)

	// runs without a session
	out := env.call(t, nil, "server.info", "")
	assert.Equal(t, "edgebridge", out["name"])
	assert.Equal(t, "1.2.3-test", out["version"])
	assert.Equal(t, float64(env.registry.Len()), out["tools"])
	_, authed := out["authenticated"]
	assert.False(t, authed)

	out = env.call(t, env.session, "server.info", "")
	assert.Equal(t, true, out["authenticated"])
}

func TestDomainToolsRequireSession(t *testing.T) {
	env := newToolEnv(t)

	te := env.callErr(t, nil, "property.list", "")
	assert.Equal(t, "UNAUTHORIZED", te.Code)
}

func TestNamedCustomerMustBeAvailable(t *testing.T) {
	env := newToolEnv(t)

	te := env.callErr(t, env.session, "property.list", `{"customer":"phantom"}`)
	assert.Equal(t, "NOT_FOUND", te.Code)
	assert.Contains(t, te.Message, "phantom")
}

func TestNoTenantSelected(t *testing.T) {
	env := newToolEnv(t)
	env.provider.setCustomers()
	bare, err := env.manager.Authenticate(context.Background(), "bare-token")
	require.NoError(t, err)

	te := env.callErr(t, bare, "property.list", "")
	assert.Equal(t, "VALIDATION", te.Code)
	assert.Contains(t, te.Message, "no tenant selected")
}

func TestScopesFlowFromIdentity(t *testing.T) {
	env := newToolEnv(t)
	env.provider.setScopes(ScopePropertyRead)
	limited, err := env.manager.Authenticate(context.Background(), "limited-token")
	require.NoError(t, err)

	te := env.callErr(t, limited, "purge.url", `{"objects":["https://www.acme.com/a.css"]}`)
	assert.Equal(t, "FORBIDDEN", te.Code)
	assert.Equal(t, ScopePurgeWrite, te.Data["scope"])
}
