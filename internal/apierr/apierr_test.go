package apierr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindValidation, "VALIDATION"},
		{KindUnauthorized, "UNAUTHORIZED"},
		{KindForbidden, "FORBIDDEN"},
		{KindNotFound, "NOT_FOUND"},
		{KindConflict, "CONFLICT"},
		{KindRateLimited, "RATE_LIMITED"},
		{KindUpstream, "UPSTREAM"},
		{KindTransient, "TRANSIENT"},
		{KindTimeout, "TIMEOUT"},
		{KindInternal, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Code(); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Forbidden("switch denied", "tenant not in policy")
	want := "forbidden: switch denied: tenant not in policy"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	plain := NotFound("tenant %q not found", "acme")
	if plain.Error() != `not-found: tenant "acme" not found` {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed error", Conflict("duplicate"), KindConflict},
		{"wrapped typed error", fmt.Errorf("enqueue: %w", Conflict("duplicate")), KindConflict},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"untyped", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Transient("upstream 503", nil)) {
		t.Error("transient should be retryable")
	}
	if !Retryable(RateLimited("throttled", nil, time.Second)) {
		t.Error("rate-limited should be retryable")
	}
	if Retryable(Forbidden("denied", "policy")) {
		t.Error("forbidden should not be retryable")
	}
	if Retryable(Upstream("bad gateway config", nil)) {
		t.Error("upstream should not be retryable")
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransient, "send failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}

	var typed *Error
	if !errors.As(fmt.Errorf("outer: %w", err), &typed) {
		t.Fatal("expected errors.As to find *Error")
	}
	if typed.Kind != KindTransient {
		t.Errorf("Kind = %v, want %v", typed.Kind, KindTransient)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	rl := RateLimit{Limit: 100, Remaining: 0}
	if !rl.Exhausted() {
		t.Error("expected exhausted with remaining 0")
	}

	rl.Remaining = 5
	if rl.Exhausted() {
		t.Error("not exhausted with remaining 5")
	}

	var zero RateLimit
	if zero.Exhausted() {
		t.Error("zero value must not report exhausted")
	}
}
