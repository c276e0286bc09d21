package tools

import (
	"context"
	"encoding/json"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/purge"
)

// Purge tool handlers. Submissions land in the per-tenant queue and
// drain asynchronously; the returned progress carries the operation id
// for purge.status.

func enqueuePurge(ctx context.Context, tc *ToolContext, params PurgeParams, kind purge.Kind) (interface{}, error) {
	if tc.Services.Purge == nil {
		return nil, apierr.Internal("purge pipeline is not configured", nil)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	prog, err := tc.Services.Purge.Enqueue(ctx, tenantID, purge.Request{
		Kind:    kind,
		Network: purge.Network(params.Network),
		Objects: params.Objects,
	})
	if err != nil {
		return nil, err
	}

	tc.Logger.Info().
		Str("operationId", prog.OperationID).
		Str("tenant", tenantID).
		Str("kind", string(kind)).
		Int("objects", len(params.Objects)).
		Msg("purge submitted")
	return prog, nil
}

func HandlePurgeURLs(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params PurgeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.ValidateURLs(); err != nil {
		return nil, Validation("%v", err)
	}
	return enqueuePurge(ctx, tc, params, purge.KindURL)
}

func HandlePurgeCPCodes(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params PurgeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.ValidateCPCodes(); err != nil {
		return nil, Validation("%v", err)
	}
	return enqueuePurge(ctx, tc, params, purge.KindCPCode)
}

func HandlePurgeTags(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params PurgeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.ValidateTags(); err != nil {
		return nil, Validation("%v", err)
	}
	return enqueuePurge(ctx, tc, params, purge.KindTag)
}

func HandlePurgeStatus(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params PurgeStatusParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}
	if tc.Services.Purge == nil {
		return nil, apierr.Internal("purge pipeline is not configured", nil)
	}

	prog, err := tc.Services.Purge.Status(params.OperationID)
	if err != nil {
		return nil, err
	}
	// Operations stay invisible outside the tenants the session holds.
	if !tc.Session.Has(prog.Tenant) {
		return nil, apierr.NotFound("purge operation %s not found", params.OperationID)
	}
	return prog, nil
}

func HandlePurgeDashboard(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params TenantOnlyParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, Validation("invalid parameters: %v", err)
		}
	}
	if tc.Services.Purge == nil {
		return nil, apierr.Internal("purge pipeline is not configured", nil)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}
	return tc.Services.Purge.Dashboard(tenantID), nil
}

func HandlePurgeAdvisor(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params TenantOnlyParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, Validation("invalid parameters: %v", err)
		}
	}
	if tc.Services.Purge == nil {
		return nil, apierr.Internal("purge pipeline is not configured", nil)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}
	suggestions := tc.Services.Purge.Advise(tenantID)
	if suggestions == nil {
		suggestions = []purge.Suggestion{}
	}
	return map[string]any{
		"customer":    tenantID,
		"suggestions": suggestions,
	}, nil
}
