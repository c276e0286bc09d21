package server

import "encoding/json"

// JSON-RPC 2.0 error codes used by the MCP transport.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// JSONRPCRequest is one incoming JSON-RPC 2.0 message. ID stays raw so
// string and numeric ids echo back byte for byte.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id. Per the
// JSON-RPC 2.0 spec a notification expects no response; an explicit
// null id is still an id.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0
}

// JSONRPCResponse is one outgoing result or error. Exactly one of
// Result and Error is set.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError carries the failure code, a human message, and optional
// structured data (the dispatcher rides its short code in data.code).
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSONRPCNotification is a server-initiated message, used on the SSE
// stream for deployment and purge progress.
type JSONRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func notification(method string, params interface{}) JSONRPCNotification {
	return JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params}
}
