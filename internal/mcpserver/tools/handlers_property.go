package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/cache"
	"github.com/edgebridge-io/edgebridge/internal/upstream"
)

// Property tool handlers. Reads go through the response cache under the
// tenant's key prefix; hostname listings keep a short TTL because
// certificate linking rewrites them out of band.

const (
	propertyListTTL      = 5 * time.Minute
	propertyHostnamesTTL = time.Minute
)

func HandleListProperties(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params ListPropertiesParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, Validation("invalid parameters: %v", err)
		}
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	page := upstream.Page{}
	if params.Offset != nil {
		page.Offset = *params.Offset
	}
	if params.Limit != nil {
		page.Limit = *params.Limit
	}

	key := fmt.Sprintf("%s:property:list:%d:%d", tenantID, page.Offset, page.Limit)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: propertyListTTL}, func(fctx context.Context) ([]byte, error) {
		pc, err := tc.Properties(tenantID)
		if err != nil {
			return nil, err
		}
		items, next, more, err := pc.List(fctx, page)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"properties": items}
		if more {
			out["next"] = next
		}
		return json.Marshal(out)
	})
}

func HandleGetProperty(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params GetPropertyParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:property:%s", tenantID, params.PropertyID)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: propertyListTTL}, func(fctx context.Context) ([]byte, error) {
		pc, err := tc.Properties(tenantID)
		if err != nil {
			return nil, err
		}
		prop, err := pc.Get(fctx, params.PropertyID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(prop)
	})
}

func HandlePropertyHostnames(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params PropertyHostnamesParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	version := 0
	if params.Version != nil {
		version = *params.Version
	}

	key := fmt.Sprintf("%s:property:%s:hostnames:%d", tenantID, params.PropertyID, version)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: propertyHostnamesTTL}, func(fctx context.Context) ([]byte, error) {
		pc, err := tc.Properties(tenantID)
		if err != nil {
			return nil, err
		}
		v := version
		if v == 0 {
			prop, err := pc.Get(fctx, params.PropertyID)
			if err != nil {
				return nil, err
			}
			v = prop.LatestVersion
		}
		hostnames, err := pc.Hostnames(fctx, params.PropertyID, v)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"propertyId": params.PropertyID,
			"version":    v,
			"hostnames":  hostnames,
		})
	})
}

func HandlePropertyActivations(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params PropertyActivationsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:property:%s:activations", tenantID, params.PropertyID)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: propertyHostnamesTTL}, func(fctx context.Context) ([]byte, error) {
		pc, err := tc.Properties(tenantID)
		if err != nil {
			return nil, err
		}
		activations, err := pc.Activations(fctx, params.PropertyID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"propertyId":  params.PropertyID,
			"activations": activations,
		})
	})
}
