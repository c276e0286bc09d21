package httpapi

import (
	"net/http"
	"time"
)

// GatewayInfo is the public capability document served at /v1/info.
// Clients call it before initialize to discover what the gateway
// supports and how to behave under pressure.
type GatewayInfo struct {
	APIVersion string         `json:"apiVersion"`
	Version    string         `json:"version"`
	ServerTime string         `json:"serverTime"`
	Tools      ToolsInfo      `json:"tools"`
	Sessions   SessionsInfo   `json:"sessions"`
	RateLimit  *RateLimitInfo `json:"rateLimit,omitempty"`
	Hints      *ClientHints   `json:"hints,omitempty"`
}

// ToolsInfo summarizes the tool surface.
type ToolsInfo struct {
	Count    int      `json:"count"`
	Families []string `json:"families"`
}

// SessionsInfo reports live session state.
type SessionsInfo struct {
	Active int `json:"active"`
}

// RateLimitInfo describes the rate limiting policy applied to the MCP
// endpoints. It doubles as the middleware configuration.
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// DefaultRateLimitConfig is the policy the gateway ships with: 600
// requests per minute with bursts of 120.
var DefaultRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   600,
	Burst:         120,
}

// ClientHints provides recommendations for client behavior
type ClientHints struct {
	RecommendedPurgeBatch int `json:"recommendedPurgeBatch"` // objects per purge call
	BackoffMsOn429        int `json:"backoffMsOn429"`        // default backoff if Retry-After missing
}

// Info handles GET /v1/info
// This endpoint can be called without authentication to allow capability discovery
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info := GatewayInfo{
		APIVersion: "1.0",
		Version:    s.Services.Version,
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Tools: ToolsInfo{
			Count:    s.MCP.Registry().Len(),
			Families: []string{"customer", "property", "dns", "purge", "cert", "cache", "server"},
		},
		Sessions: SessionsInfo{
			Active: s.Services.Tenants.SessionCount(),
		},
		Hints: &ClientHints{
			RecommendedPurgeBatch: 200,
			BackoffMsOn429:        1500,
		},
	}

	if s.RateLimit.MaxRequests > 0 {
		limit := s.RateLimit
		info.RateLimit = &limit
	}

	writeJSON(w, http.StatusOK, info)
}
