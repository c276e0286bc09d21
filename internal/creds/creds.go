// Package creds manages per-tenant credential bundles: the INI file
// store used by default and an encrypted store for deployments that
// hold secrets under a master key. Bundles are immutable once loaded;
// rotation swaps the whole bundle behind a per-tenant slot lock.
package creds

import (
	"errors"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

var (
	// ErrNotFound is returned for tenants the store does not know.
	ErrNotFound = errors.New("tenant not found")
	// ErrDecrypt is returned when a sealed bundle fails authentication.
	// Callers must audit this; it never invalidates the session.
	ErrDecrypt = errors.New("bundle decrypt failed")
)

// DefaultEnvironment is assumed when a bundle does not name one.
const DefaultEnvironment = "production"

// Bundle is the signing material and metadata for one (tenant,
// environment) pair.
type Bundle struct {
	Tenant      string               `json:"tenant"`
	Environment string               `json:"environment"`
	Credentials edgegrid.Credentials `json:"credentials"`
	LoadedAt    time.Time            `json:"loadedAt"`
}

// Validate checks the bundle is complete enough to sign requests.
func (b *Bundle) Validate() error {
	if b.Tenant == "" {
		return errors.New("bundle missing tenant")
	}
	return b.Credentials.Validate()
}

// Store resolves tenants to credential bundles. Implementations must be
// safe for concurrent use; Swap replaces a bundle atomically so readers
// see either the old bundle or the new one, never a mix.
type Store interface {
	Get(tenant string) (*Bundle, error)
	List() []string
	Swap(tenant string, b *Bundle) error
}
