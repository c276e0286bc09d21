package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// CPS vendor content types, versioned per resource.
const (
	enrollmentsAccept = "application/vnd.akamai.cps.enrollments.v11+json"
	enrollmentAccept  = "application/vnd.akamai.cps.enrollment.v11+json"
	deploymentAccept  = "application/vnd.akamai.cps.deployment.v7+json"
	deploymentType    = "application/vnd.akamai.cps.deployment.v7+json"
)

// Enrollment is one certificate enrollment.
type Enrollment struct {
	ID      int                `json:"enrollmentId"`
	CN      string             `json:"cn"`
	SANs    []string           `json:"sans,omitempty"`
	Status  string             `json:"status"`
	Domains []EnrollmentDomain `json:"domains,omitempty"`
}

// EnrollmentDomain carries the validation state of one covered name.
type EnrollmentDomain struct {
	Name      string `json:"name"`
	Validated bool   `json:"validated"`
}

// Validated reports whether every domain on the enrollment has passed
// validation.
func (e *Enrollment) Validated() bool {
	for _, d := range e.Domains {
		if !d.Validated {
			return false
		}
	}
	return true
}

// Deployment is the back-end's view of one network deployment.
type Deployment struct {
	ID      int    `json:"deploymentId"`
	Network string `json:"network"`
	Status  string `json:"status"` // pending, in-progress, active, failed, cancelled
}

// CPSClient drives the certificate enrollment family.
type CPSClient struct {
	d Doer
}

// NewCPSClient wraps a signed transport.
func NewCPSClient(d Doer) *CPSClient {
	return &CPSClient{d: d}
}

type enrollmentsWire struct {
	Enrollments []Enrollment `json:"enrollments"`
}

// Enrollments lists every enrollment visible to the bundle.
func (c *CPSClient) Enrollments(ctx context.Context) ([]Enrollment, error) {
	var wire enrollmentsWire
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/cps/v2/enrollments",
		Header: acceptHeader(enrollmentsAccept),
	}, &wire); err != nil {
		return nil, err
	}
	return wire.Enrollments, nil
}

// Enrollment returns one enrollment by id.
func (c *CPSClient) Enrollment(ctx context.Context, enrollmentID int) (*Enrollment, error) {
	var out Enrollment
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/cps/v2/enrollments/%d", enrollmentID),
		Header: acceptHeader(enrollmentAccept),
	}, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		out.ID = enrollmentID
	}
	return &out, nil
}

// StartDeployment asks the back-end to roll the enrollment's
// certificate out to the network and returns the assigned deployment.
func (c *CPSClient) StartDeployment(ctx context.Context, enrollmentID int, network string) (*Deployment, error) {
	body, err := json.Marshal(map[string]string{"network": network})
	if err != nil {
		return nil, err
	}
	var out Deployment
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/cps/v2/enrollments/%d/deployments", enrollmentID),
		Body:        body,
		ContentType: deploymentType,
		Header:      acceptHeader(deploymentAccept),
	}, &out); err != nil {
		return nil, err
	}
	if out.Network == "" {
		out.Network = network
	}
	return &out, nil
}

// Deployment polls one deployment's status.
func (c *CPSClient) Deployment(ctx context.Context, enrollmentID, deploymentID int) (*Deployment, error) {
	var out Deployment
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/cps/v2/enrollments/%d/deployments/%d", enrollmentID, deploymentID),
		Header: acceptHeader(deploymentAccept),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelDeployment aborts a deployment; the back-end reports it as
// cancelled afterwards.
func (c *CPSClient) CancelDeployment(ctx context.Context, enrollmentID, deploymentID int) error {
	_, err := c.d.Do(ctx, edgegrid.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/cps/v2/enrollments/%d/deployments/%d", enrollmentID, deploymentID),
	})
	return err
}

func acceptHeader(accept string) http.Header {
	h := make(http.Header, 1)
	h.Set("Accept", accept)
	return h
}
