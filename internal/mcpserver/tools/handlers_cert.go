package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/cache"
	"github.com/edgebridge-io/edgebridge/internal/certdeploy"
)

// Certificate tool handlers. Enrollment reads keep a short TTL because
// deployments move their status; deploy and rollback drive the
// coordinator.

const enrollmentTTL = time.Minute

func HandleCertEnrollments(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CertEnrollmentsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, Validation("invalid parameters: %v", err)
		}
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:cert:enrollments", tenantID)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: enrollmentTTL}, func(fctx context.Context) ([]byte, error) {
		cps, err := tc.CPS(tenantID)
		if err != nil {
			return nil, err
		}
		enrollments, err := cps.Enrollments(fctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"enrollments": enrollments})
	})
}

func HandleCertEnrollment(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CertEnrollmentParams
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

	key := fmt.Sprintf("%s:cert:enrollment:%d", tenantID, params.EnrollmentID)
	return tc.cachedJSON(ctx, key, cache.RefreshSpec{TTL: enrollmentTTL}, func(fctx context.Context) ([]byte, error) {
		cps, err := tc.CPS(tenantID)
		if err != nil {
			return nil, err
		}
		enrollment, err := cps.Enrollment(fctx, params.EnrollmentID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(enrollment)
	})
}

func HandleCertDeploy(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CertDeployParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}
	if tc.Services.Deploy == nil {
		return nil, apierr.Internal("deployment coordinator is not configured", nil)
	}

	tenantID, err := tc.Tenant(params.Customer)
	if err != nil {
		return nil, err
	}

	cps, err := tc.CPS(tenantID)
	if err != nil {
		return nil, err
	}
	props, err := tc.Properties(tenantID)
	if err != nil {
		return nil, err
	}

	view, err := tc.Services.Deploy.Deploy(ctx, tenantID,
		certdeploy.Backends{CPS: cps, Properties: props},
		params.EnrollmentID, params.Network,
		certdeploy.Options{
			AutoLink:          params.AutoLinkProperties,
			ParallelLinking:   params.ParallelLinking,
			RollbackOnFailure: params.RollbackOnFailure,
		})
	if err != nil {
		return nil, err
	}

	tc.Logger.Info().
		Int("enrollmentId", params.EnrollmentID).
		Str("tenant", tenantID).
		Str("network", params.Network).
		Int("autoLink", len(params.AutoLinkProperties)).
		Msg("certificate deployment started")
	return view, nil
}

func HandleCertStatus(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CertStatusParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}
	if tc.Services.Deploy == nil {
		return nil, apierr.Internal("deployment coordinator is not configured", nil)
	}

	view, err := tc.Services.Deploy.Status(params.EnrollmentID)
	if err != nil {
		return nil, err
	}
	// Deployments stay invisible outside the tenants the session holds.
	if !tc.Session.Has(view.Tenant) {
		return nil, apierr.NotFound("no deployment recorded for enrollment %d", params.EnrollmentID)
	}
	return view, nil
}

func HandleCertRollback(ctx context.Context, tc *ToolContext, raw json.RawMessage) (interface{}, error) {
	var params CertRollbackParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, Validation("invalid parameters: %v", err)
	}
	if err := params.Validate(); err != nil {
		return nil, Validation("%v", err)
	}
	if tc.Services.Deploy == nil {
		return nil, apierr.Internal("deployment coordinator is not configured", nil)
	}

	view, err := tc.Services.Deploy.Status(params.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if !tc.Session.Has(view.Tenant) {
		return nil, apierr.NotFound("no deployment recorded for enrollment %d", params.EnrollmentID)
	}

	// Cancel with the owning tenant's credentials, whatever the
	// session's current context is.
	cps, err := tc.CPS(view.Tenant)
	if err != nil {
		return nil, err
	}
	rolled, err := tc.Services.Deploy.Rollback(ctx, certdeploy.Backends{CPS: cps}, params.EnrollmentID)
	if err != nil {
		return nil, err
	}

	tc.Logger.Info().
		Int("enrollmentId", params.EnrollmentID).
		Str("tenant", view.Tenant).
		Msg("certificate deployment rolled back")
	return rolled, nil
}
