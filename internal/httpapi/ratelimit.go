package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/ratelimit"
)

// limiterConfig translates the advertised policy into the shared
// limiter's window+bucket shape.
func (ri RateLimitInfo) limiterConfig() ratelimit.Config {
	window := time.Duration(ri.WindowSeconds) * time.Second
	refillPerMin := float64(ri.MaxRequests) / window.Minutes()
	return ratelimit.Config{
		WindowLimit:  ri.MaxRequests,
		Window:       window,
		Burst:        ri.Burst,
		RefillPerMin: refillPerMin,
	}
}

// RateLimitMiddleware enforces the policy per caller. The key is the
// MCP session id when the client presents one and the client address
// otherwise, so unauthenticated initialize storms are also bounded.
// Each middleware instance owns its limiter, allowing different routes
// to carry different policies.
func RateLimitMiddleware(config RateLimitInfo) func(http.Handler) http.Handler {
	limiter := ratelimit.NewTenantLimiter(config.limiterConfig())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Mcp-Session-Id")
			if key == "" {
				key = r.RemoteAddr
			}

			allowed, wait := limiter.TryAcquire(key)
			remaining, resetAt := limiter.Snapshot(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(config.Burst))

			if !allowed {
				retryAfter := int(wait.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn().
					Str("key", key).
					Str("path", r.URL.Path).
					Int("retryAfter", retryAfter).
					Msg("rate limit exceeded")

				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded; retry after " + strconv.Itoa(retryAfter) + " seconds",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
