// Package upstream holds the typed thin clients for the control-plane
// resource families: properties, DNS zones, and certificate
// enrollments. Each client wraps the signed transport and does nothing
// beyond path building, pagination, and decoding into typed records;
// retries, breakers, and error mapping live in the transport.
package upstream

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// Doer is the signed transport the typed clients ride on. It is
// satisfied by *edgegrid.Client.
type Doer interface {
	Do(ctx context.Context, req edgegrid.Request) (*edgegrid.Response, error)
	DoJSON(ctx context.Context, req edgegrid.Request, out any) (*edgegrid.Response, error)
}

// Page is offset/limit pagination. Zero values omit the parameters and
// take the back-end defaults.
type Page struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

func (p Page) query() url.Values {
	q := url.Values{}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// nextPage derives the follow-up page from a Link header when the
// back-end paginates by link relation instead of counts.
func nextPage(resp *edgegrid.Response, current Page) (Page, bool) {
	for _, link := range resp.Header.Values("Link") {
		next, ok := parseNextLink(link)
		if !ok {
			continue
		}
		u, err := url.Parse(next)
		if err != nil {
			continue
		}
		page := Page{Limit: current.Limit}
		if v := u.Query().Get("offset"); v != "" {
			page.Offset, _ = strconv.Atoi(v)
		}
		if v := u.Query().Get("limit"); v != "" {
			page.Limit, _ = strconv.Atoi(v)
		}
		if page.Offset > current.Offset {
			return page, true
		}
	}
	return Page{}, false
}

// parseNextLink extracts the URI of a rel="next" value from one Link
// header.
func parseNextLink(header string) (string, bool) {
	for _, part := range strings.Split(header, ",") {
		fields := strings.Split(part, ";")
		if len(fields) < 2 {
			continue
		}
		uri := strings.TrimSpace(fields[0])
		if !strings.HasPrefix(uri, "<") || !strings.HasSuffix(uri, ">") {
			continue
		}
		for _, param := range fields[1:] {
			k, v, _ := strings.Cut(strings.TrimSpace(param), "=")
			if strings.TrimSpace(k) == "rel" && strings.Trim(v, `"`) == "next" {
				return uri[1 : len(uri)-1], true
			}
		}
	}
	return "", false
}
