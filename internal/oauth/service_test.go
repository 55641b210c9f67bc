package oauth

import (
	"testing"

	"github.com/signet-id/signet/internal/store"
)

func TestRegisteredRedirect(t *testing.T) {
	client := store.Client{
		RedirectURIs: []string{
			"https://app.example.com/callback",
			"https://app.example.com/alt",
		},
	}

	t.Run("matches exact URI", func(t *testing.T) {
		if !registeredRedirect(client, "https://app.example.com/callback") {
			t.Fatal("expected exact URI to match")
		}
	})

	t.Run("rejects empty URI", func(t *testing.T) {
		if registeredRedirect(client, "") {
			t.Fatal("expected empty URI to be rejected")
		}
	})

	t.Run("rejects prefix match", func(t *testing.T) {
		if registeredRedirect(client, "https://app.example.com/callback/extra") {
			t.Fatal("expected longer path to be rejected")
		}
	})

	t.Run("rejects different scheme", func(t *testing.T) {
		if registeredRedirect(client, "http://app.example.com/callback") {
			t.Fatal("expected scheme change to be rejected")
		}
	})

	t.Run("rejects unregistered host", func(t *testing.T) {
		if registeredRedirect(client, "https://evil.example.com/callback") {
			t.Fatal("expected unknown host to be rejected")
		}
	})
}

func TestValidateScopeSubset(t *testing.T) {
	allowed := []string{"openid", "profile", "email"}

	t.Run("accepts subset", func(t *testing.T) {
		if err := validateScopeSubset("openid email", allowed); err != nil {
			t.Fatalf("expected subset to pass, got %v", err)
		}
	})

	t.Run("accepts empty request", func(t *testing.T) {
		if err := validateScopeSubset("", allowed); err != nil {
			t.Fatalf("expected empty scope to pass, got %v", err)
		}
	})

	t.Run("rejects scope outside allow-list", func(t *testing.T) {
		if err := validateScopeSubset("openid admin", allowed); err == nil {
			t.Fatal("expected out-of-list scope to fail")
		}
	})
}

func TestHasScope(t *testing.T) {
	if !hasScope("openid profile email", "openid") {
		t.Fatal("expected openid to be found")
	}
	if hasScope("profile email", "openid") {
		t.Fatal("did not expect openid in scope")
	}
	if hasScope("", "openid") {
		t.Fatal("did not expect scope in empty string")
	}
}

func TestDiscoveryDocument(t *testing.T) {
	doc := DiscoveryDocument("https://id.example.com")

	if doc.Issuer != "https://id.example.com" {
		t.Errorf("unexpected issuer %q", doc.Issuer)
	}
	if doc.TokenEndpoint != "https://id.example.com/oauth2/token" {
		t.Errorf("unexpected token endpoint %q", doc.TokenEndpoint)
	}
	if doc.JWKSUri != "https://id.example.com/.well-known/jwks.json" {
		t.Errorf("unexpected jwks uri %q", doc.JWKSUri)
	}

	foundS256 := false
	for _, method := range doc.CodeChallengeMethodsSupported {
		if method == ChallengeMethodS256 {
			foundS256 = true
		}
	}
	if !foundS256 {
		t.Error("expected S256 in supported challenge methods")
	}
}
