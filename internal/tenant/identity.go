// Package tenant binds authenticated sessions to credential bundles. It
// owns session lifecycle, the tenant switch operation, per-call signed
// client construction, credential rotation, and the audit trail for all
// of the above.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
)

// Identity is the verified result of authenticating a bearer token.
type Identity struct {
	Subject   string
	Customers []string // tenant ids the subject may act in
	Scopes    []string
	ExpiresAt time.Time
}

// IdentityProvider validates bearer tokens. Implementations must check
// signature, expiry, and revocation; the manager trusts the result.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// JWTProvider is the default provider: HS256 JWTs whose "customers"
// claim lists tenant ids and whose "scopes" claim lists granted scopes.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider for the shared HS256 secret.
func NewJWTProvider(secret []byte) (*JWTProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("tenant: empty JWT secret")
	}
	return &JWTProvider{secret: secret}, nil
}

// Authenticate parses and verifies the token. Signature, algorithm, and
// expiry failures all map to an unauthorized error; the concrete cause
// stays server-side.
func (p *JWTProvider) Authenticate(_ context.Context, token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierr.Wrap(apierr.KindUnauthorized, "token validation failed", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, apierr.Unauthorized("token has no subject")
	}

	id := &Identity{
		Subject:   sub,
		Customers: stringClaim(claims["customers"]),
		Scopes:    stringClaim(claims["scopes"]),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// stringClaim coerces a JSON claim into a string slice. JWT libraries
// decode arrays as []any, so both shapes must be handled.
func stringClaim(v any) []string {
	switch vv := v.(type) {
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	default:
		return nil
	}
}
