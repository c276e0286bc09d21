package tools

import (
	"context"
	"encoding/json"
	"unicode/utf8"
)

// ToolDefinition describes one tool: its wire name, schemas, and the
// access it requires. Public tools run without a session; everything
// else needs an authenticated session holding every listed scope.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Public      bool           `json:"-"`
	Scopes      []string       `json:"-"`
}

// Handler processes a tool invocation with the given context and
// raw JSON arguments.
type Handler func(context.Context, *ToolContext, json.RawMessage) (interface{}, error)

// ToolDescriptor is returned by tools/list (MCP specification format)
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// CallRequest represents a tools/call JSON-RPC request
type CallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallResult wraps successful tool execution results
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a piece of tool output
type ContentBlock struct {
	Type string `json:"type"` // "text", "resource", etc.
	Text string `json:"text,omitempty"`
}

// maxResultBytes caps one tool result before transport framing.
const maxResultBytes = 50 << 10

const truncationNotice = `...[truncated: result exceeded 50 KiB]`

// truncateResult cuts an oversize result at a rune boundary and appends
// the truncation notice. Results at or under the cap pass unchanged.
func truncateResult(s string) string {
	if len(s) <= maxResultBytes {
		return s
	}
	cut := maxResultBytes - len(truncationNotice)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationNotice
}
