package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/cache"
	"github.com/edgebridge-io/edgebridge/internal/upstream"
)

// DNS tool handlers. Zones expose reads only; record mutation rides a
// changelist workflow the back-end does not document stably, so this
// surface stays read-only.

const (
	zoneListTTL   = 5 * time.Minute
	recordSetsTTL = time.Minute
)

func HandleListZones(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params ListZonesParams
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

	key := fmt.Sprintf("%s:dns:zones:%d:%d", tenantID, page.Offset, page.Limit)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: zoneListTTL}, func(fctx context.Context) ([]byte, error) {
		dc, err := tc.DNS(tenantID)
		if err != nil {
			return nil, err
		}
		zones, next, more, err := dc.Zones(fctx, page)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"zones": zones}
		if more {
			out["next"] = next
		}
		return json.Marshal(out)
	})
}

func HandleGetZone(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params GetZoneParams
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

	key := fmt.Sprintf("%s:dns:zone:%s", tenantID, params.Zone)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: zoneListTTL}, func(fctx context.Context) ([]byte, error) {
		dc, err := tc.DNS(tenantID)
		if err != nil {
			return nil, err
		}
		zone, err := dc.Zone(fctx, params.Zone)
		if err != nil {
			return nil, err
		}
		return json.Marshal(zone)
	})
}

func HandleRecordSets(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params RecordSetsParams
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

	page := upstream.Page{}
	if params.Offset != nil {
		page.Offset = *params.Offset
	}
	if params.Limit != nil {
		page.Limit = *params.Limit
	}

	key := fmt.Sprintf("%s:dns:zone:%s:recordsets:%d:%d", tenantID, params.Zone, page.Offset, page.Limit)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: recordSetsTTL}, func(fctx context.Context) ([]byte, error) {
		dc, err := tc.DNS(tenantID)
		if err != nil {
			return nil, err
		}
		sets, next, more, err := dc.RecordSets(fctx, params.Zone, page)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"zone":       params.Zone,
			"recordSets": sets,
		}
		if more {
			out["next"] = next
		}
		return json.Marshal(out)
	})
}
