package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/web/response"
)

type contextKey string

const claimsContextKey contextKey = "token_claims"

// BearerAuthMiddleware verifies the Authorization header and makes the
// token claims available to the handler.
func BearerAuthMiddleware(keyService *keys.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				response.ErrorResponse(w, apperrors.UnauthorizedError("missing bearer token", nil), nil)
				return
			}

			claims, err := keyService.Verify(token, keys.VerifyOptions{})
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				response.ErrorResponse(w, err, nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the verified claims set by BearerAuthMiddleware
func ClaimsFromContext(ctx context.Context) (keys.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(keys.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
