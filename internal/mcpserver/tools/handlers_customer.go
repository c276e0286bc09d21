package tools

import (
	"context"
	"encoding/json"
)

// Customer tool handlers. These act on the session itself, so they need
// no tenant credentials.

func HandleListCustomers(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	return map[string]any{
		"customers": tc.Services.Tenants.Contexts(tc.Session),
	}, nil
}

func HandleCurrentCustomer(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	current := tc.Session.Current()
	for _, c := range tc.Services.Tenants.Contexts(tc.Session) {
		if c.Current {
			return c, nil
		}
	}
	return map[string]any{
		"tenant":    current,
		"available": tc.Session.Available(),
	}, nil
}

func HandleSwitchCustomer(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params SwitchCustomerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}

	sess, err := tc.Services.Tenants.Switch(tc.Session.ID, params.Customer)
	if err != nil {
		return nil, err
	}

	tc.Logger.Info().Str("tenant", params.Customer).Msg("tenant context switched")
	return map[string]any{
		"customer": sess.Current(),
		"switched": true,
	}, nil
}
