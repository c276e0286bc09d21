// Package apierr defines the error taxonomy shared by every subsystem:
// a small set of kinds with stable short codes, plus the structured
// payloads (RFC 7807 problems, rate-limit snapshots) that travel with
// them across layer boundaries.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind categorizes gateway errors for dispatch, retry, and reporting.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not-found"
	KindConflict     Kind = "conflict"
	KindRateLimited  Kind = "rate-limited"
	KindUpstream     Kind = "upstream"
	KindTransient    Kind = "transient"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Code returns the stable short code surfaced to clients.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindUpstream:
		return "UPSTREAM"
	case KindTransient:
		return "TRANSIENT"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL"
	}
}

// Problem is an RFC 7807 error body as returned by the back-end APIs.
// Only the fields the gateway reads are typed; sub-errors keep the
// three fields dashboards display.
type Problem struct {
	Type     string       `json:"type,omitempty"`
	Title    string       `json:"title,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	Status   int          `json:"status,omitempty"`
	Errors   []SubProblem `json:"errors,omitempty"`
}

// SubProblem is one entry of a problem's errors[] list.
type SubProblem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// RateLimit is the structured rate-limit state parsed from upstream
// X-RateLimit-* headers. A zero Reset means the header was absent.
type RateLimit struct {
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	Reset     time.Time     `json:"reset,omitzero"`
	Window    time.Duration `json:"-"`
}

// Exhausted reports whether the upstream refuses further requests.
func (r RateLimit) Exhausted() bool {
	return r.Limit > 0 && r.Remaining == 0
}

// RetryHint returns how long to wait before retrying a throttled call:
// until Reset plus a one-second buffer when the reset is known, 60s
// otherwise. Never less than one second.
func (r RateLimit) RetryHint(now time.Time) time.Duration {
	if r.Reset.IsZero() {
		return time.Minute
	}
	d := r.Reset.Sub(now) + time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Error is the typed error carried across subsystem boundaries.
// Credential material and signatures must never appear in Message,
// Reason, or the wrapped cause.
type Error struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Reason     string        `json:"reason,omitempty"`
	Problem    *Problem      `json:"problem,omitempty"`
	RateLimit  *RateLimit    `json:"rateLimit,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind preserving the cause for
// errors.Is/As chains.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation reports malformed arguments or schema mismatch.
func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// Unauthorized reports a missing or expired session.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Forbidden reports an authorization denial with the policy's reason.
func Forbidden(message, reason string) *Error {
	return &Error{Kind: KindForbidden, Message: message, Reason: reason}
}

// NotFound reports an unknown tenant, operation, enrollment, or resource.
func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

// Conflict reports duplicate admission or an already-in-flight operation.
func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

// RateLimited reports upstream throttling with the parsed snapshot and a
// retry hint.
func RateLimited(message string, rl *RateLimit, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RateLimit: rl, RetryAfter: retryAfter}
}

// Upstream reports a non-retryable back-end failure, attaching the
// RFC 7807 body when one was parsed.
func Upstream(message string, problem *Problem) *Error {
	return &Error{Kind: KindUpstream, Message: message, Problem: problem}
}

// Transient reports a retryable failure after local retries are exhausted.
func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// Timeout reports a deadline exceeded at any layer.
func Timeout(message string) *Error {
	return New(KindTimeout, message)
}

// Internal reports an invariant violation; callers must also audit it.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the kind from any error. Context cancellation maps to
// timeout; everything untyped maps to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may retry after backing off.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// AsError returns the typed error if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
