package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signet-id/signet/internal/config"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/oauth"
)

func testKeys(t *testing.T) *keys.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service, err := keys.NewService("https://id.example.com", 2048, logger)
	if err != nil {
		t.Fatalf("failed to create key service: %v", err)
	}
	return service
}

func testHandler(t *testing.T) *OAuthHandler {
	t.Helper()
	cfg := &config.Config{BaseURL: "https://id.example.com"}

	return &OAuthHandler{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		KeyService: testKeys(t),
	}
}

func TestHandleWellKnownConfiguration(t *testing.T) {
	handler := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	rec := httptest.NewRecorder()

	handler.HandleWellKnownConfiguration(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc oauth.OpenIDConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid discovery document: %v", err)
	}

	if doc.Issuer == "" {
		t.Error("expected issuer")
	}
	if doc.TokenEndpoint != doc.Issuer+"/oauth2/token" {
		t.Errorf("token endpoint %q not under issuer %q", doc.TokenEndpoint, doc.Issuer)
	}
	if doc.JWKSUri != doc.Issuer+"/.well-known/jwks.json" {
		t.Errorf("jwks uri %q not under issuer %q", doc.JWKSUri, doc.Issuer)
	}
}

func TestHandleJWKS(t *testing.T) {
	handler := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()

	handler.HandleJWKS(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var keySet struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &keySet); err != nil {
		t.Fatalf("invalid JWKS: %v", err)
	}
	if len(keySet.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keySet.Keys))
	}

	key := keySet.Keys[0]
	if key["kty"] != "RSA" {
		t.Errorf("expected RSA key, got %v", key["kty"])
	}
	if key["kid"] == "" || key["kid"] == nil {
		t.Error("expected a key id")
	}
	if key["n"] == "" || key["n"] == nil {
		t.Error("expected a modulus")
	}
	if _, private := key["d"]; private {
		t.Error("JWKS must never contain private key material")
	}
}

func TestHandleJWKSAfterRotation(t *testing.T) {
	handler := testHandler(t)

	if err := handler.KeyService.Rotate(); err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()

	handler.HandleJWKS(rec, req)

	var keySet struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &keySet); err != nil {
		t.Fatalf("invalid JWKS: %v", err)
	}

	// Retired key stays published so outstanding tokens keep verifying
	if len(keySet.Keys) != 2 {
		t.Fatalf("expected current and retired key, got %d", len(keySet.Keys))
	}
}
