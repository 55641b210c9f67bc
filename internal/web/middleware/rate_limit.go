package middleware

import (
	"net/http"
	"strconv"

	"github.com/signet-id/signet/internal/abuse"
	"github.com/signet-id/signet/internal/web/response"
)

// RateLimit defines limiting parameters for an endpoint group
type RateLimit struct {
	Requests int         // Number of requests allowed per window
	KeyFunc  KeyFunction // Function to generate the rate limiting key
}

// RateLimitMiddleware enforces the fixed-window limit before the handler
// runs. Rejected requests carry Retry-After and the X-RateLimit headers.
func RateLimitMiddleware(limiter *abuse.RateLimiter, limit RateLimit) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limit.KeyFunc(r)
			if key == "" {
				key = "unknown"
			}

			if err := limiter.Allow(r.Context(), key, limit.Requests); err != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
				w.Header().Set("X-RateLimit-Remaining", "0")
				response.ErrorResponse(w, err, nil)
				return
			}

			remaining, err := limiter.Remaining(r.Context(), key, limit.Requests)
			if err == nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			}

			next.ServeHTTP(w, r)
		})
	}
}
