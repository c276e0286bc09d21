package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/metrics"
)

// Registry manages tool definitions and dispatches tool calls
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	ordering []string // Preserve registration order for consistent tools/list
}

type toolEntry struct {
	def     ToolDefinition
	handler Handler
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*toolEntry),
	}
}

// Register adds a tool definition and handler to the registry
func (r *Registry) Register(def ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}

	r.tools[def.Name] = &toolEntry{
		def:     def,
		handler: handler,
	}
	r.ordering = append(r.ordering, def.Name)

	return nil
}

// MustRegister registers a tool or panics on error (for init-time registration)
func (r *Registry) MustRegister(def ToolDefinition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// List returns all registered tool descriptors (for tools/list response)
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]ToolDescriptor, 0, len(r.ordering))
	for _, name := range r.ordering {
		entry := r.tools[name]
		descriptors = append(descriptors, ToolDescriptor{
			Name:        entry.def.Name,
			Description: entry.def.Description,
			InputSchema: entry.def.InputSchema,
		})
	}

	return descriptors
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordering)
}

// Call executes a tool by name. It enforces authentication and scopes,
// runs the handler, and wraps the result in MCP content format with the
// response ceiling applied.
func (r *Registry) Call(ctx context.Context, toolCtx *ToolContext, req CallRequest) (interface{}, error) {
	r.mu.RLock()
	entry, exists := r.tools[req.Name]
	r.mu.RUnlock()

	if !exists {
		metrics.ToolCalls.WithLabelValues(req.Name, "unknown").Inc()
		return nil, NewToolError(ErrCodeUnknownTool, fmt.Sprintf("tool not found: %s", req.Name), nil)
	}

	if err := authorize(entry.def, toolCtx); err != nil {
		metrics.ToolCalls.WithLabelValues(req.Name, "denied").Inc()
		return nil, err
	}

	result, err := entry.handler(ctx, toolCtx, req.Arguments)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(req.Name, "error").Inc()
		return nil, WrapError(err)
	}

	// Per MCP spec, tool results ride as {"content": [{"type": "text", ...}]}.
	resultJSON, err := json.Marshal(result)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(req.Name, "error").Inc()
		return nil, NewToolError(apierr.KindInternal.Code(), "serializing tool result: "+err.Error(), nil)
	}

	metrics.ToolCalls.WithLabelValues(req.Name, "ok").Inc()
	return CallResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: truncateResult(string(resultJSON)),
			},
		},
	}, nil
}

// authorize gates a call on the definition's access requirements.
// Public tools always pass; everything else needs a session holding
// every required scope.
func authorize(def ToolDefinition, tc *ToolContext) error {
	if def.Public {
		return nil
	}
	if tc == nil || tc.Session == nil {
		return NewToolError(apierr.KindUnauthorized.Code(),
			fmt.Sprintf("tool %s requires authentication", def.Name), nil)
	}
	for _, scope := range def.Scopes {
		if !tc.Session.HasScope(scope) {
			return NewToolError(apierr.KindForbidden.Code(),
				fmt.Sprintf("tool %s requires scope %s", def.Name, scope),
				map[string]any{"scope": scope})
		}
	}
	return nil
}

// Get retrieves a tool definition by name (for testing)
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.tools[name]
	if !exists {
		return nil, false
	}

	return &entry.def, true
}
