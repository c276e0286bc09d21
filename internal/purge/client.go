package purge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// Doer is the slice of the signed client the pipeline needs. Satisfied
// by *edgegrid.Client.
type Doer interface {
	DoJSON(ctx context.Context, req edgegrid.Request, out any) (*edgegrid.Response, error)
}

// ClientFunc resolves a signed transport for a tenant. The service
// layer binds this to the tenant manager's service-client constructor.
type ClientFunc func(tenant string) (Doer, error)

const (
	v3DeletePrefix = "/ccu/v3/delete/"
	v3StatusPrefix = "/ccu/v3/purges/"
)

// submitResponse is the body returned when a purge batch is accepted.
type submitResponse struct {
	PurgeID          string `json:"purgeId"`
	SupportID        string `json:"supportId"`
	EstimatedSeconds int    `json:"estimatedSeconds"`
	HTTPStatus       int    `json:"httpStatus"`
	Detail           string `json:"detail"`
}

// statusResponse is the body returned when polling a purge ID.
type statusResponse struct {
	PurgeID          string `json:"purgeId"`
	PurgeStatus      string `json:"purgeStatus"`
	EstimatedSeconds int    `json:"estimatedSeconds"`
	CompletionTime   string `json:"completionTime,omitempty"`
}

// batchStateFor maps the back-end's status strings onto the local
// batch lifecycle. Unrecognized strings keep the batch in-progress so
// the poll budget, not a vocabulary change, decides its fate.
func batchStateFor(purgeStatus string) BatchState {
	switch purgeStatus {
	case "Done":
		return BatchCompleted
	case "Failed":
		return BatchFailed
	case "Pending":
		return BatchPending
	default:
		return BatchInProgress
	}
}

// submitBatch posts one batch of objects and returns the accepted
// purge ID with its estimate.
func submitBatch(ctx context.Context, d Doer, kind Kind, network Network, objects []string) (*submitResponse, error) {
	body, err := json.Marshal(struct {
		Objects []string `json:"objects"`
	}{Objects: objects})
	if err != nil {
		return nil, fmt.Errorf("encoding purge batch: %w", err)
	}

	var out submitResponse
	_, err = d.DoJSON(ctx, edgegrid.Request{
		Method: "POST",
		Path:   v3DeletePrefix + string(kind) + "/" + string(network),
		Body:   body,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.PurgeID == "" {
		return nil, fmt.Errorf("purge accepted without a purgeId (detail: %q)", out.Detail)
	}
	return &out, nil
}

// pollStatus fetches the current state of a submitted purge ID.
func pollStatus(ctx context.Context, d Doer, purgeID string) (*statusResponse, error) {
	var out statusResponse
	_, err := d.DoJSON(ctx, edgegrid.Request{
		Method:     "GET",
		Path:       v3StatusPrefix + purgeID,
		Idempotent: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
