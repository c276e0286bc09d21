package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/creds"
	"github.com/edgebridge-io/edgebridge/internal/mcpserver/server"
	"github.com/edgebridge-io/edgebridge/internal/mcpserver/tools"
)

// Server holds dependencies for the ops surface: liveness and readiness
// probes, the capability document, prometheus metrics, and the mounted
// MCP transport.
type Server struct {
	Services  *tools.Services
	MCP       *server.MCPServer
	Store     creds.Store
	RateLimit RateLimitInfo
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Routes creates the HTTP router with all gateway endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(SessionMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Probes (unauthenticated)
	r.Get("/healthz", s.Healthz)
	r.Get("/readyz", s.Readyz)

	// Capability document and metrics
	r.Get("/v1/info", s.Info)
	r.Method("GET", "/metrics", promhttp.Handler())

	// MCP transport, rate limited per caller
	r.Group(func(r chi.Router) {
		if s.RateLimit.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimit))
		}
		s.MCP.Mount(r)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

// Healthz reports process liveness.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Readyz reports whether the gateway can serve tool calls: at least one
// tenant's credentials must be loaded.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	if len(s.Store.List()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "no tenant credentials loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
