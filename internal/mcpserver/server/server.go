package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/mcpserver/tools"
	"github.com/edgebridge-io/edgebridge/internal/tenant"
)

// defaultProtocolVersion is what the server answers during initialize
// and assumes when a client omits the version header.
const defaultProtocolVersion = "2025-03-26"

// MCPServer speaks JSON-RPC 2.0 over streamable HTTP: POST /mcp for
// requests, GET /mcp/events for the server-to-client event stream, and
// DELETE /mcp to end the session. Sessions are minted by the tenant
// manager on initialize and identified by the Mcp-Session-Id header
// afterwards.
type MCPServer struct {
	services *tools.Services
	registry *tools.Registry
	origins  []string
}

// NewMCPServer builds the MCP transport over the shared services and
// registers the full tool surface.
func NewMCPServer(svc *tools.Services, allowedOrigins []string) *MCPServer {
	registry := tools.NewRegistry()
	tools.RegisterAllTools(registry)

	return &MCPServer{
		services: svc,
		registry: registry,
		origins:  allowedOrigins,
	}
}

// Registry exposes the tool registry, for capability documents that
// report the tool count.
func (s *MCPServer) Registry() *tools.Registry {
	return s.registry
}

// Mount attaches the MCP endpoints to the router.
func (s *MCPServer) Mount(r chi.Router) {
	r.Post("/mcp", s.handlePost)
	r.Get("/mcp/events", s.handleEvents)
	r.Delete("/mcp", s.handleDelete)
}

// handlePost handles POST /mcp (JSON-RPC requests).
func (s *MCPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Missing header means an older client; assume the default version.
	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !isSupportedProtocolVersion(v) {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "invalid jsonrpc version")
		return
	}

	// Notifications get acknowledged, never answered.
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, r, &req)
		return
	}

	// Everything after initialize rides on the session id.
	sess, ok := s.requireSession(w, r, &req)
	if !ok {
		return
	}
	s.handleJSONRPC(w, r, &req, sess)
}

// handleInitialize authenticates the bearer token, mints a session, and
// answers with the server capabilities. The session id travels in the
// Mcp-Session-Id response header.
func (s *MCPServer) handleInitialize(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) {
	token, ok := bearerToken(r)
	if !ok {
		s.sendError(w, req.ID, InvalidRequest, "missing or malformed authorization header")
		return
	}

	sess, err := s.services.Tenants.Authenticate(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("mcp authentication failed")
		s.sendError(w, req.ID, InvalidRequest, "invalid token")
		return
	}

	log.Info().
		Str("sessionId", sess.ID).
		Str("subject", sess.Subject).
		Str("tenant", sess.Current()).
		Msg("mcp session initialized")

	w.Header().Set("Mcp-Session-Id", sess.ID)
	w.Header().Set("Content-Type", "application/json")

	result := map[string]interface{}{
		"protocolVersion": defaultProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "edgebridge",
			"version": s.services.Version,
		},
	}

	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  mustMarshal(result),
	})
}

// requireSession resolves the Mcp-Session-Id header. A missing, unknown,
// or expired session answers with an InvalidRequest error.
func (s *MCPServer) requireSession(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) (*tenant.Session, bool) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		s.sendError(w, req.ID, InvalidRequest, "missing Mcp-Session-Id header")
		return nil, false
	}

	sess, err := s.services.Tenants.Session(sessionID)
	if err != nil {
		s.sendError(w, req.ID, InvalidRequest, "session not found or expired")
		return nil, false
	}
	return sess, true
}

// handleJSONRPC routes session-scoped methods.
func (s *MCPServer) handleJSONRPC(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest, sess *tenant.Session) {
	logger := log.With().
		Str("sessionId", sess.ID).
		Str("subject", sess.Subject).
		Str("method", req.Method).
		Logger()

	switch req.Method {
	case "tools/list":
		s.sendResult(w, req.ID, map[string]interface{}{
			"tools": s.registry.List(),
		})

	case "tools/call":
		var callReq tools.CallRequest
		if err := json.Unmarshal(req.Params, &callReq); err != nil {
			s.sendError(w, req.ID, InvalidParams, "invalid tool call parameters")
			return
		}

		toolCtx := tools.NewToolContext(&logger, sess, s.services)
		result, err := s.registry.Call(r.Context(), toolCtx, callReq)
		if err != nil {
			if toolErr, ok := err.(*tools.ToolError); ok {
				code, message, data := toolErr.ToJSONRPCError()
				s.sendError(w, req.ID, code, message, data)
			} else {
				s.sendError(w, req.ID, InternalError, err.Error())
			}
			return
		}
		s.sendResult(w, req.ID, result)

	case "ping":
		s.sendResult(w, req.ID, map[string]interface{}{"status": "ok"})

	default:
		s.sendError(w, req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleDelete handles DELETE /mcp (end the session).
func (s *MCPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}

	s.services.Tenants.Revoke(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// validateOrigin guards against DNS rebinding. Browser requests carry
// an Origin header that must be allowlisted; requests without one
// (desktop clients, curl, server-to-server) pass.
func (s *MCPServer) validateOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.origins {
		if origin == allowed {
			return true
		}
	}

	log.Warn().
		Str("origin", origin).
		Strs("allowedOrigins", s.origins).
		Msg("origin not in allowlist")
	return false
}

func isSupportedProtocolVersion(v string) bool {
	switch v {
	case "2024-11-05", "2025-03-26", "2025-06-18":
		return true
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return token, token != ""
}

func (s *MCPServer) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data ...json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors are still HTTP 200

	errObj := &JSONRPCError{
		Code:    code,
		Message: message,
	}
	if len(data) > 0 && data[0] != nil {
		errObj.Data = data[0]
	}

	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errObj,
	})
}

func (s *MCPServer) sendResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  mustMarshal(result),
	})
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
