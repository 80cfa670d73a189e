package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/znz-systems/courier/internal/ratelimit"
)

// RateLimitKeyPrefix namespaces API rate limit keys per client IP.
const RateLimitKeyPrefix = "email_api:"

// RateLimit returns middleware that rate-limits requests on a per-IP basis
// using the provided Limiter, allowing maxRequests per window. When the rate
// limit is exceeded, it responds with a 429 Too Many Requests status and a
// JSON error body. Limiter errors let the request through.
func RateLimit(limiter ratelimit.Limiter, window time.Duration, maxRequests int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				// If RemoteAddr has no port, use it as-is.
				ip = r.RemoteAddr
			}

			allowed, err := limiter.Allow(r.Context(), RateLimitKeyPrefix+ip, window, maxRequests)
			if err != nil {
				slog.ErrorContext(r.Context(), "rate limiter unavailable", "error", err)
				allowed = true
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", itoa(int(window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
