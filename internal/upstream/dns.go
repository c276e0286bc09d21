package upstream

import (
	"context"
	"net/http"
	"net/url"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// Zone is the summary record for one DNS zone.
type Zone struct {
	Zone            string `json:"zone"`
	Type            string `json:"type"` // PRIMARY, SECONDARY, ALIAS
	ActivationState string `json:"activationState,omitempty"`
	Comment         string `json:"comment,omitempty"`
	SignAndServe    bool   `json:"signAndServe,omitempty"`
}

// RecordSet is one record set keyed (name, type).
type RecordSet struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	TTL   int      `json:"ttl"`
	Rdata []string `json:"rdata"`
}

// DNSClient reads the zone family. Mutations are not exposed.
type DNSClient struct {
	d Doer
}

// NewDNSClient wraps a signed transport.
func NewDNSClient(d Doer) *DNSClient {
	return &DNSClient{d: d}
}

type zonesWire struct {
	Zones []Zone `json:"zones"`
}

// Zones returns one page of zones plus the next page when the back-end
// links one.
func (c *DNSClient) Zones(ctx context.Context, page Page) ([]Zone, Page, bool, error) {
	var wire zonesWire
	resp, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/config-dns/v2/zones",
		Query:  page.query(),
	}, &wire)
	if err != nil {
		return nil, Page{}, false, err
	}
	next, more := nextPage(resp, page)
	return wire.Zones, next, more, nil
}

// Zone returns one zone by name.
func (c *DNSClient) Zone(ctx context.Context, zone string) (*Zone, error) {
	var out Zone
	if _, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/config-dns/v2/zones/" + url.PathEscape(zone),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type recordSetsWire struct {
	RecordSets []RecordSet `json:"recordsets"`
}

// RecordSets returns one page of a zone's record sets.
func (c *DNSClient) RecordSets(ctx context.Context, zone string, page Page) ([]RecordSet, Page, bool, error) {
	var wire recordSetsWire
	resp, err := c.d.DoJSON(ctx, edgegrid.Request{
		Method: http.MethodGet,
		Path:   "/config-dns/v2/zones/" + url.PathEscape(zone) + "/recordsets",
		Query:  page.query(),
	}, &wire)
	if err != nil {
		return nil, Page{}, false, err
	}
	next, more := nextPage(resp, page)
	return wire.RecordSets, next, more, nil
}
