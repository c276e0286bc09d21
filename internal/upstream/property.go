package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// Property is the summary record for one delivery configuration.
type Property struct {
	ID                string `json:"propertyId"`
	Name              string `json:"propertyName"`
	ContractID        string `json:"contractId,omitempty"`
	GroupID           string `json:"groupId,omitempty"`
	LatestVersion     int    `json:"latestVersion"`
	StagingVersion    int    `json:"stagingVersion,omitempty"`
	ProductionVersion int    `json:"productionVersion,omitempty"`
}

// Activation is one version activation on a network.
type Activation struct {
	ID      string `json:"activationId"`
	Version int    `json:"propertyVersion"`
	Network string `json:"network"`
	Status  string `json:"status"` // PENDING, ACTIVE, FAILED, ABORTED
	Note    string `json:"note,omitempty"`
	Date    string `json:"submitDate,omitempty"`
}

// Hostname maps an edge hostname onto a property version. Unknown
// fields from the back-end are retained and written back verbatim, so a
// read-modify-write cycle never drops data this gateway does not model.
type Hostname struct {
	CNameFrom        string
	CNameTo          string
	CertEnrollmentID int

	extra map[string]json.RawMessage
}

func (h *Hostname) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["cnameFrom"]; ok {
		if err := json.Unmarshal(v, &h.CNameFrom); err != nil {
			return err
		}
		delete(raw, "cnameFrom")
	}
	if v, ok := raw["cnameTo"]; ok {
		if err := json.Unmarshal(v, &h.CNameTo); err != nil {
			return err
		}
		delete(raw, "cnameTo")
	}
	if v, ok := raw["certEnrollmentId"]; ok {
		if err := json.Unmarshal(v, &h.CertEnrollmentID); err != nil {
			return err
		}
		delete(raw, "certEnrollmentId")
	}
	h.extra = raw
	return nil
}

func (h Hostname) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(h.extra)+3)
	for k, v := range h.extra {
		out[k] = v
	}
	var err error
	if out["cnameFrom"], err = json.Marshal(h.CNameFrom); err != nil {
		return nil, err
	}
	if out["cnameTo"], err = json.Marshal(h.CNameTo); err != nil {
		return nil, err
	}
	if h.CertEnrollmentID != 0 {
		if out["certEnrollmentId"], err = json.Marshal(h.CertEnrollmentID); err != nil {
			return nil, err
		}
	} else {
		delete(out, "certEnrollmentId")
	}
	return json.Marshal(out)
}

// PropertyClient reads and updates the property family.
type PropertyClient struct {
	d Doer
}

// NewPropertyClient wraps a signed transport.
func NewPropertyClient(d Doer) *PropertyClient {
	return &PropertyClient{d: d}
}

type propertyListWire struct {
	Properties struct {
		Items []Property `json:"items"`
	} `json:"properties"`
}

// List returns one page of properties plus the next page when the
// back-end links one.
func (c *PropertyClient) List(ctx context.Context, page Page) ([]Property, Page, bool, error) {
	var wire propertyListWire
	resp, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/papi/v1/properties",
		Query:  page.query(),
	}, &wire)
	if err != nil {
		return nil, Page{}, false, err
	}
	next, more := nextPage(resp, page)
	return wire.Properties.Items, next, more, nil
}

// Get returns one property by id.
func (c *PropertyClient) Get(ctx context.Context, propertyID string) (*Property, error) {
	var wire propertyListWire
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/papi/v1/properties/" + url.PathEscape(propertyID),
	}, &wire); err != nil {
		return nil, err
	}
	if len(wire.Properties.Items) == 0 {
		return nil, fmt.Errorf("property %s: empty response", propertyID)
	}
	return &wire.Properties.Items[0], nil
}

type hostnamesWire struct {
	Hostnames struct {
		Items []Hostname `json:"items"`
	} `json:"hostnames"`
}

// Hostnames reads the hostname set of a property version.
func (c *PropertyClient) Hostnames(ctx context.Context, propertyID string, version int) ([]Hostname, error) {
	var wire hostnamesWire
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/papi/v1/properties/%s/versions/%d/hostnames", url.PathEscape(propertyID), version),
	}, &wire); err != nil {
		return nil, err
	}
	return wire.Hostnames.Items, nil
}

// UpdateHostnames writes the full hostname set back. The wire form is
// the same envelope the read returns.
func (c *PropertyClient) UpdateHostnames(ctx context.Context, propertyID string, version int, hostnames []Hostname) error {
	var wire hostnamesWire
	wire.Hostnames.Items = hostnames
	body, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	_, err = c.d.Do(ctx, edgegrid.Request{
		Method:      http.MethodPut,
		Path:        fmt.Sprintf("/papi/v1/properties/%s/versions/%d/hostnames", url.PathEscape(propertyID), version),
		Body:        body,
		ContentType: "application/json",
	})
	return err
}

type activationsWire struct {
	Activations struct {
		Items []Activation `json:"items"`
	} `json:"activations"`
}

// Activations lists a property's activation history.
func (c *PropertyClient) Activations(ctx context.Context, propertyID string) ([]Activation, error) {
	var wire activationsWire
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/papi/v1/properties/" + url.PathEscape(propertyID) + "/activations",
	}, &wire); err != nil {
		return nil, err
	}
	return wire.Activations.Items, nil
}
