// Package backoff provides the exponential full-jitter retry pacing used
// by the signed HTTP client and the purge send loop.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes a retry schedule. The delay window for attempt n
// (0-based) is min(Cap, Base<<n); the actual delay is full jitter,
// drawn uniformly from [0, window).
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Default returns the standard policy: base 1s, cap 16s, 5 attempts.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Cap:         16 * time.Second,
		MaxAttempts: 5,
	}
}

// Window returns the upper bound of the delay for the given attempt.
func (p Policy) Window(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	window := p.Base
	for i := 0; i < attempt; i++ {
		window *= 2
		if window >= p.Cap {
			return p.Cap
		}
	}
	if window > p.Cap {
		window = p.Cap
	}
	return window
}

// Delay draws a full-jitter delay for the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	window := p.Window(attempt)
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(window)))
}

// Wait sleeps for the attempt's jittered delay, returning early with the
// context's error on cancellation.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
