package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
)

// Cache admin and server info handlers.

func HandleCacheStats(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CacheStatsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, Validation("invalid parameters: %v", err)
		}
	}
	if tc.Services.Cache == nil {
		return nil, apierr.Internal("response cache is not configured", nil)
	}

	out := map[string]any{"cache": tc.Services.Cache.Stats()}
	if params.Customer != "" {
		tenantID, err := tc.Tenant(params.Customer)
		if err != nil {
			return nil, err
		}
		entries, size := tc.Services.Cache.TenantUsage(tenantID)
		out["customer"] = map[string]any{
			"tenant":  tenantID,
			"entries": entries,
			"bytes":   size,
		}
	}
	return out, nil
}

func HandleCacheFlush(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CacheFlushParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, Validation("invalid parameters: %v", err)
		}
	}
	if tc.Services.Cache == nil {
		return nil, apierr.Internal("response cache is not configured", nil)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	// Flushes never cross the tenant prefix; a pattern is interpreted
	// inside the tenant's namespace.
	var flushed int
	if params.Pattern == "" {
		flushed = tc.Services.Cache.FlushTenant(tenantID)
	} else {
		flushed = tc.Services.Cache.Invalidate(tenantID + ":" + params.Pattern)
	}

	tc.Logger.Info().
		Str("tenant", tenantID).
		Str("pattern", params.Pattern).
		Int("flushed", flushed).
		Msg("cache flushed")
	return map[string]any{
		"customer": tenantID,
		"flushed":  flushed,
	}, nil
}

// ServerInfoHandler builds the public server.info handler. It closes
// over the registry so the tool count stays accurate as tools register.
func ServerInfoHandler(r *Registry) Handler {
	return func(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
		info := map[string]any{
			"name":    "edgebridge",
			"version": tc.Services.Version,
			"tools":   r.Len(),
			"hints": map[string]any{
				"recommendedPurgeBatch": 200,
				"rateLimitPolicy":       "per-tenant sliding window; retry after the reset on 429",
			},
		}
		if !tc.Services.StartedAt.IsZero() {
			info["uptimeSeconds"] = int(time.Since(tc.Services.StartedAt) / time.Second)
		}
		if tc.Session != nil {
			info["authenticated"] = true
		}
		return info, nil
	}
}
