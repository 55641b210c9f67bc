package keys

import (
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/signet-id/signet/internal/errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	service, err := NewService("https://id.example.com", 2048, slog.Default())
	if err != nil {
		t.Fatalf("failed to create key service: %v", err)
	}
	return service
}

func TestService_SignAndVerify(t *testing.T) {
	service := newTestService(t)

	t.Run("round trip preserves claims", func(t *testing.T) {
		token, err := service.Sign(SignOptions{
			Subject:  "user-1",
			Audience: "client-1",
			Scope:    "openid profile",
			TTL:      time.Hour,
		})
		if err != nil {
			t.Fatalf("unexpected sign error: %v", err)
		}

		claims, err := service.Verify(token, VerifyOptions{Audience: "client-1"})
		if err != nil {
			t.Fatalf("unexpected verify error: %v", err)
		}
		if claims.Subject != "user-1" {
			t.Fatalf("expected subject user-1, got %q", claims.Subject)
		}
		if claims.Scope != "openid profile" {
			t.Fatalf("expected scope to survive, got %q", claims.Scope)
		}
		kid, _ := service.CurrentKey()
		if claims.KID != kid {
			t.Fatalf("expected kid %q, got %q", kid, claims.KID)
		}
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, err := service.Sign(SignOptions{
			Subject: "user-1",
			TTL:     time.Millisecond,
		})
		if err != nil {
			t.Fatalf("unexpected sign error: %v", err)
		}

		time.Sleep(10 * time.Millisecond)

		_, err = service.Verify(token, VerifyOptions{})
		if !apperrors.IsType(err, apperrors.CodeTokenExpired) {
			t.Fatalf("expected token expired error, got %v", err)
		}
	})

	t.Run("rejects audience mismatch", func(t *testing.T) {
		token, err := service.Sign(SignOptions{
			Subject:  "user-1",
			Audience: "client-1",
			TTL:      time.Hour,
		})
		if err != nil {
			t.Fatalf("unexpected sign error: %v", err)
		}

		_, err = service.Verify(token, VerifyOptions{Audience: "client-2"})
		if !apperrors.IsType(err, apperrors.CodeInvalidAudience) {
			t.Fatalf("expected audience error, got %v", err)
		}
	})

	t.Run("rejects token signed by another service", func(t *testing.T) {
		other := newTestService(t)
		token, err := other.Sign(SignOptions{Subject: "user-1", TTL: time.Hour})
		if err != nil {
			t.Fatalf("unexpected sign error: %v", err)
		}

		_, err = service.Verify(token, VerifyOptions{})
		if !apperrors.IsType(err, apperrors.CodeInvalidSignature) {
			t.Fatalf("expected signature error, got %v", err)
		}
	})

	t.Run("rejects symmetric algorithm", func(t *testing.T) {
		kid, _ := service.CurrentKey()
		forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		forged.Header["kid"] = kid

		signed, err := forged.SignedString([]byte("guessable-secret"))
		if err != nil {
			t.Fatalf("unexpected sign error: %v", err)
		}

		if _, err := service.Verify(signed, VerifyOptions{}); err == nil {
			t.Fatal("expected HS256 token to be rejected")
		}
	})
}

func TestService_Rotate(t *testing.T) {
	service := newTestService(t)

	oldKID, _ := service.CurrentKey()
	token, err := service.Sign(SignOptions{Subject: "user-1", TTL: time.Hour})
	if err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}

	if err := service.Rotate(); err != nil {
		t.Fatalf("unexpected rotate error: %v", err)
	}

	newKID, _ := service.CurrentKey()
	if newKID == oldKID {
		t.Fatal("expected rotation to install a new kid")
	}

	t.Run("old token verifies after rotation", func(t *testing.T) {
		claims, err := service.Verify(token, VerifyOptions{})
		if err != nil {
			t.Fatalf("unexpected verify error: %v", err)
		}
		if claims.KID != oldKID {
			t.Fatalf("expected old kid %q, got %q", oldKID, claims.KID)
		}
	})

	t.Run("jwks carries current and retired keys", func(t *testing.T) {
		set := service.PublicKeySet()
		if len(set.Keys) != 2 {
			t.Fatalf("expected 2 keys in set, got %d", len(set.Keys))
		}

		kids := map[string]bool{}
		for _, key := range set.Keys {
			kids[key.KID] = true
			if key.Alg != SigningAlgorithm {
				t.Fatalf("expected alg %s, got %s", SigningAlgorithm, key.Alg)
			}
			if key.N == "" || key.E == "" {
				t.Fatal("expected modulus and exponent to be populated")
			}
		}
		if !kids[oldKID] || !kids[newKID] {
			t.Fatalf("expected both kids in set, got %v", kids)
		}
	})

	t.Run("new signatures use the new key", func(t *testing.T) {
		token, err := service.Sign(SignOptions{Subject: "user-2", TTL: time.Hour})
		if err != nil {
			t.Fatalf("unexpected sign error: %v", err)
		}
		claims, err := service.Verify(token, VerifyOptions{})
		if err != nil {
			t.Fatalf("unexpected verify error: %v", err)
		}
		if claims.KID != newKID {
			t.Fatalf("expected new kid %q, got %q", newKID, claims.KID)
		}
	})
}
