package middleware

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware binds a deadline to the request context. Handlers and
// everything below them observe cancellation through ctx.Done().
func TimeoutMiddleware(timeout time.Duration) Middleware {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
