// Package edgegrid implements the EG1-HMAC-SHA256 request signing scheme
// and a retrying HTTP client for the CDN/DNS/certificate control APIs.
package edgegrid

import (
	"errors"
	"fmt"
)

// DefaultMaxBody is the largest number of body bytes included in a
// request signature when the credentials do not override it.
const DefaultMaxBody = 131072

// Credentials is the signing material for one tenant and host. Values
// are immutable once loaded; rotation swaps the whole struct.
type Credentials struct {
	ClientToken      string
	AccessToken      string
	ClientSecret     string
	Host             string
	AccountSwitchKey string
	MaxBody          int
	HeadersToSign    []string
}

// Validate checks the required fields are present.
func (c Credentials) Validate() error {
	var missing []string
	if c.ClientToken == "" {
		missing = append(missing, "client_token")
	}
	if c.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if len(missing) == 4 {
		return ErrNoCredentials
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete credentials: missing %v", missing)
	}
	return nil
}

// ErrNoCredentials is returned when a client is constructed without any
// signing material at all.
var ErrNoCredentials = errors.New("edgegrid: empty credentials")

func (c Credentials) maxBody() int {
	if c.MaxBody <= 0 {
		return DefaultMaxBody
	}
	return c.MaxBody
}
