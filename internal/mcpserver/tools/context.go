package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/cache"
	"github.com/edgebridge-io/edgebridge/internal/certdeploy"
	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
	"github.com/edgebridge-io/edgebridge/internal/purge"
	"github.com/edgebridge-io/edgebridge/internal/tenant"
	"github.com/edgebridge-io/edgebridge/internal/upstream"
)

// Services are the long-lived components handlers dispatch into. Built
// once in main and shared by every call; any of Cache, Purge, or Deploy
// may be nil when the corresponding surface is not wired, and the
// handlers that need them refuse cleanly.
type Services struct {
	Tenants   *tenant.Manager
	Cache     *cache.Cache
	Purge     *purge.Service
	Deploy    *certdeploy.Coordinator
	Version   string
	StartedAt time.Time
}

// ToolContext carries one call's session and the shared services.
// Session is nil for unauthenticated calls, which only public tools
// accept.
type ToolContext struct {
	Logger   *zerolog.Logger
	Session  *tenant.Session
	Services *Services
}

// NewToolContext binds a session to the shared services for one call.
func NewToolContext(logger *zerolog.Logger, sess *tenant.Session, svc *Services) *ToolContext {
	return &ToolContext{Logger: logger, Session: sess, Services: svc}
}

// Tenant resolves the optional customer argument against the session.
// Empty means the session's current context; a named tenant must be in
// the session's available set.
func (tc *ToolContext) Tenant(customer string) (string, error) {
	if tc.Session == nil {
		return "", apierr.Unauthorized("authentication required")
	}
	if customer == "" {
		customer = tc.Session.Current()
	}
	if customer == "" {
		return "", apierr.Validation("no tenant selected; pass customer or switch first")
	}
	if !tc.Session.Has(customer) {
		return "", apierr.NotFound("tenant %q is not available to this session", customer)
	}
	return customer, nil
}

func (tc *ToolContext) signedClient(tenantID, purpose string) (*edgegrid.Client, error) {
	if tc.Session == nil {
		return nil, apierr.Unauthorized("authentication required")
	}
	return tc.Services.Tenants.Client(tc.Session.ID, tenantID, purpose)
}

// Properties returns the property client bound to the tenant's
// credentials.
func (tc *ToolContext) Properties(tenantID string) (*upstream.PropertyClient, error) {
	cl, err := tc.signedClient(tenantID, "property")
	if err != nil {
		return nil, err
	}
	return upstream.NewPropertyClient(cl), nil
}

// DNS returns the zone client bound to the tenant's credentials.
func (tc *ToolContext) DNS(tenantID string) (*upstream.DNSClient, error) {
	cl, err := tc.signedClient(tenantID, "dns")
	if err != nil {
		return nil, err
	}
	return upstream.NewDNSClient(cl), nil
}

// CPS returns the enrollment client bound to the tenant's credentials.
func (tc *ToolContext) CPS(tenantID string) (*upstream.CPSClient, error) {
	cl, err := tc.signedClient(tenantID, "cps")
	if err != nil {
		return nil, err
	}
	return upstream.NewCPSClient(cl), nil
}

// cachedJSON serves a read through the response cache when one is
// wired; without a cache every call fetches. fetch must return a
// JSON-encoded value, and key must carry the tenant prefix.
func (tc *ToolContext) cachedJSON(ctx context.Context, key string, spec cache.RefreshSpec, fetch cache.FetchFunc) (json.RawMessage, error) {
	if tc.Services.Cache == nil {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
	data, err := tc.Services.Cache.GetWithRefresh(ctx, key, spec, fetch)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
