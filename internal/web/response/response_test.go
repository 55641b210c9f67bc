package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/signet-id/signet/internal/errors"
)

func TestOAuthErrorResponse(t *testing.T) {
	t.Run("passes wire codes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		OAuthErrorResponse(rec, apperrors.InvalidGrantError("authorization code already used", nil), nil)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		var body OAuthError
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body.Error != "invalid_grant" {
			t.Errorf("expected invalid_grant, got %q", body.Error)
		}
		if body.ErrorDescription == "" {
			t.Error("expected an error description")
		}
	})

	t.Run("unknown client answers invalid_client", func(t *testing.T) {
		rec := httptest.NewRecorder()
		OAuthErrorResponse(rec, apperrors.InvalidClientError("unknown client", nil), nil)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}

		var body OAuthError
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body.Error != "invalid_client" {
			t.Errorf("expected invalid_client, got %q", body.Error)
		}
	})

	t.Run("rate limiting carries Retry-After", func(t *testing.T) {
		rec := httptest.NewRecorder()
		OAuthErrorResponse(rec, apperrors.RateLimitedError("too many requests", 42*time.Second), nil)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "42" {
			t.Errorf("expected Retry-After 42, got %q", got)
		}

		var body OAuthError
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body.RetryAfter != 42 {
			t.Errorf("expected retry_after 42 in body, got %d", body.RetryAfter)
		}
	})

	t.Run("internal errors hide detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		OAuthErrorResponse(rec, apperrors.DatabaseError("failed to get client", nil), nil)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}

		var body OAuthError
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body.Error != "server_error" {
			t.Errorf("expected server_error, got %q", body.Error)
		}
		if body.ErrorDescription != "" {
			t.Errorf("expected no detail, got %q", body.ErrorDescription)
		}
	})
}

func TestErrorResponseRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorResponse(rec, apperrors.LockedOutError("verification temporarily locked", 15*time.Minute), nil)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Errorf("expected Retry-After 900, got %q", got)
	}
}
