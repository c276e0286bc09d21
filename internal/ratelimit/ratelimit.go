// Package ratelimit provides the per-tenant pacing primitives for the
// purge pipeline: a sliding-window counter for the sustained ceiling and
// a token bucket for spike absorption. Tokens are consumed only at the
// moment the caller is ready to send.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a fractional-refill token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and
// refill rate in tokens per second.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	tb := &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		now:        time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// TryAcquire consumes one token if available. When refused it returns
// the wait until the next token accrues.
func (tb *TokenBucket) TryAcquire() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.refill(now)

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - tb.tokens
	wait := time.Duration(needed / tb.refillRate * float64(time.Second))
	return false, wait
}

// Available returns the whole tokens currently in the bucket.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(tb.now())
	return int(tb.tokens)
}

// ResetAt returns when the bucket refills to capacity absent further
// consumption.
func (tb *TokenBucket) ResetAt() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	tb.refill(now)
	needed := tb.capacity - tb.tokens
	return now.Add(time.Duration(needed / tb.refillRate * float64(time.Second)))
}

// SlidingWindow counts acquisitions over a trailing window and refuses
// once the limit is reached.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewSlidingWindow creates a window limiter allowing limit acquisitions
// per trailing window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// TryAcquire records one acquisition if under the limit. When refused it
// returns the wait until the oldest in-window acquisition ages out.
func (w *SlidingWindow) TryAcquire() (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return true, 0
	}

	wait := w.stamps[0].Add(w.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

// Utilization returns the in-window fill as a fraction of the limit.
func (w *SlidingWindow) Utilization() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	if w.limit == 0 {
		return 0
	}
	return float64(len(w.stamps)) / float64(w.limit)
}

// Config sizes the per-tenant limiter pair.
type Config struct {
	WindowLimit  int           // sustained operations per window
	Window       time.Duration // trailing window length
	Burst        int           // token bucket capacity
	RefillPerMin float64       // token bucket refill per minute
}

// DefaultConfig returns the purge pipeline defaults: 100 ops per 60s
// sustained, burst 50 refilling at 100/min.
func DefaultConfig() Config {
	return Config{
		WindowLimit:  100,
		Window:       time.Minute,
		Burst:        50,
		RefillPerMin: 100,
	}
}

type tenantSlot struct {
	window   *SlidingWindow
	bucket   *TokenBucket
	lastSeen time.Time
}

// TenantLimiter keeps one window+bucket pair per tenant. Idle pairs are
// swept so abandoned tenants do not accumulate.
type TenantLimiter struct {
	mu      sync.RWMutex
	cfg     Config
	tenants map[string]*tenantSlot
	stop    chan struct{}
	done    chan struct{}
}

// NewTenantLimiter creates the limiter and starts its sweep worker.
func NewTenantLimiter(cfg Config) *TenantLimiter {
	l := &TenantLimiter{
		cfg:     cfg,
		tenants: make(map[string]*tenantSlot),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *TenantLimiter) slot(tenant string) *tenantSlot {
	l.mu.RLock()
	s, ok := l.tenants[tenant]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.tenants[tenant]; ok {
		return s
	}
	s = &tenantSlot{
		window: NewSlidingWindow(l.cfg.WindowLimit, l.cfg.Window),
		bucket: NewTokenBucket(l.cfg.Burst, l.cfg.RefillPerMin/60.0),
	}
	l.tenants[tenant] = s
	return s
}

// TryAcquire consumes from both the window and the bucket; refusal by
// either leaves the other untouched and returns the longer wait hint.
func (l *TenantLimiter) TryAcquire(tenant string) (bool, time.Duration) {
	s := l.slot(tenant)

	l.mu.Lock()
	s.lastSeen = time.Now()
	l.mu.Unlock()

	ok, windowWait := s.window.TryAcquire()
	if !ok {
		return false, windowWait
	}

	ok, bucketWait := s.bucket.TryAcquire()
	if !ok {
		// Roll back the window slot we just took so a refused caller
		// does not count against the sustained ceiling.
		s.window.mu.Lock()
		if n := len(s.window.stamps); n > 0 {
			s.window.stamps = s.window.stamps[:n-1]
		}
		s.window.mu.Unlock()
		return false, bucketWait
	}

	return true, 0
}

// Utilization reports the tenant's sustained-window fill for dashboards.
func (l *TenantLimiter) Utilization(tenant string) float64 {
	l.mu.RLock()
	s, ok := l.tenants[tenant]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.window.Utilization()
}

// Snapshot reports the tenant's remaining burst tokens and when the
// bucket refills completely. A tenant with no slot yet is at full
// capacity.
func (l *TenantLimiter) Snapshot(tenant string) (remaining int, resetAt time.Time) {
	l.mu.RLock()
	s, ok := l.tenants[tenant]
	l.mu.RUnlock()
	if !ok {
		return l.cfg.Burst, time.Now()
	}
	return s.bucket.Available(), s.bucket.ResetAt()
}

// Stop terminates the sweep worker.
func (l *TenantLimiter) Stop() {
	close(l.stop)
	<-l.done
}

func (l *TenantLimiter) sweepLoop() {
	defer close(l.done)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for tenant, s := range l.tenants {
				if time.Since(s.lastSeen) > time.Hour {
					delete(l.tenants, tenant)
				}
			}
			l.mu.Unlock()
		}
	}
}
