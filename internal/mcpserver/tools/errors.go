package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
)

// JSON-RPC error codes the dispatcher emits. Duplicated from the
// transport so handlers and the server agree without importing each
// other.
const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternal       = -32603
)

// ErrCodeUnknownTool marks a tools/call naming no registered tool. It
// is distinct from NOT_FOUND, which covers domain lookups.
const ErrCodeUnknownTool = "UNKNOWN_TOOL"

// ToolError is a structured failure from tool dispatch or execution.
// Code is an apierr short code (or ErrCodeUnknownTool) and rides in the
// JSON-RPC error data so callers branch on it without parsing text.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError creates a tool error with optional data.
func NewToolError(code, message string, data map[string]any) *ToolError {
	return &ToolError{Code: code, Message: message, Data: data}
}

// Validation builds the INVALID_PARAMS-mapped error handlers return for
// malformed arguments.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Code: apierr.KindValidation.Code(), Message: fmt.Sprintf(format, args...)}
}

// WrapError converts any error into a ToolError through the apierr
// taxonomy. Forbidden reasons, rate-limit hints, and upstream problem
// documents are carried in the data so nothing is lost in transit.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	kind := apierr.KindOf(err)
	out := &ToolError{Code: kind.Code(), Message: err.Error()}
	ae, ok := apierr.AsError(err)
	if !ok {
		return out
	}

	out.Message = ae.Message
	if ae.Reason != "" {
		out.data()["reason"] = ae.Reason
	}
	if ae.RetryAfter > 0 {
		out.data()["retryAfterSeconds"] = int(ae.RetryAfter / time.Second)
	}
	if ae.RateLimit != nil {
		out.data()["rateLimit"] = ae.RateLimit
	}
	if ae.Problem != nil {
		out.data()["problem"] = ae.Problem
	}
	return out
}

func (e *ToolError) data() map[string]any {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	return e.Data
}

// ToJSONRPCError maps the tool error onto the wire: validation turns
// into InvalidParams, an unknown tool into MethodNotFound, and
// everything else into InternalError. The short code always rides in
// data.code.
func (e *ToolError) ToJSONRPCError() (int, string, json.RawMessage) {
	var code int
	switch e.Code {
	case ErrCodeUnknownTool:
		code = codeMethodNotFound
	case apierr.KindValidation.Code():
		code = codeInvalidParams
	default:
		code = codeInternal
	}

	data := map[string]any{"code": e.Code}
	for k, v := range e.Data {
		data[k] = v
	}
	raw, _ := json.Marshal(data)
	return code, e.Message, raw
}
