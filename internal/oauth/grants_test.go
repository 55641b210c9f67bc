package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/store"
)

type fakeStore struct {
	clients          map[string]store.Client
	codes            map[string]*store.AuthorizationCode
	tokens           map[string]*store.RefreshToken
	users            map[uuid.UUID]store.User
	createRefreshErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients: make(map[string]store.Client),
		codes:   make(map[string]*store.AuthorizationCode),
		tokens:  make(map[string]*store.RefreshToken),
		users:   make(map[uuid.UUID]store.User),
	}
}

func (f *fakeStore) GetClientByClientID(ctx context.Context, clientID string) (store.Client, error) {
	client, ok := f.clients[clientID]
	if !ok {
		return store.Client{}, apperrors.NotFoundError("client not found", nil)
	}
	return client, nil
}

func (f *fakeStore) CreateAuthorizationCode(ctx context.Context, authCode store.AuthorizationCode) (store.AuthorizationCode, error) {
	stored := authCode
	f.codes[authCode.Code] = &stored
	return authCode, nil
}

func (f *fakeStore) ConsumeAuthorizationCode(ctx context.Context, code string) (store.AuthorizationCode, error) {
	authCode, ok := f.codes[code]
	if !ok {
		return store.AuthorizationCode{}, store.ErrAuthorizationCodeNotFound
	}
	if authCode.UsedAt != nil {
		return store.AuthorizationCode{}, store.ErrAuthorizationCodeConsumed
	}
	now := time.Now()
	authCode.UsedAt = &now
	return *authCode, nil
}

func (f *fakeStore) CreateRefreshToken(ctx context.Context, token store.RefreshToken) (store.RefreshToken, error) {
	if f.createRefreshErr != nil {
		return store.RefreshToken{}, f.createRefreshErr
	}
	stored := token
	f.tokens[token.TokenHash] = &stored
	return token, nil
}

func (f *fakeStore) GetRefreshTokenByRaw(ctx context.Context, raw string) (store.RefreshToken, error) {
	token, ok := f.tokens[store.HashRefreshToken(raw)]
	if !ok {
		return store.RefreshToken{}, store.ErrRefreshTokenNotFound
	}
	if token.Revoked {
		return store.RefreshToken{}, store.ErrRefreshTokenRevoked
	}
	if time.Now().After(token.ExpiresAt) {
		return store.RefreshToken{}, store.ErrRefreshTokenExpired
	}
	return *token, nil
}

func (f *fakeStore) RevokeRefreshToken(ctx context.Context, raw string) error {
	token, ok := f.tokens[store.HashRefreshToken(raw)]
	if !ok || token.Revoked {
		return store.ErrRefreshTokenNotFound
	}
	token.Revoked = true
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, apperrors.NotFoundError("user not found", nil)
	}
	return user, nil
}

type stubPublisher struct {
	events []string
}

func (p *stubPublisher) Publish(ctx context.Context, applicationID uuid.UUID, event string, data map[string]any) {
	p.events = append(p.events, event)
}

const (
	testVerifier     = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testClientSecret = "s3cret-value"
)

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// grantFixture wires a Service over the fake store with one public and one
// confidential client and a single user.
type grantFixture struct {
	service      *Service
	store        *fakeStore
	publisher    *stubPublisher
	publicClient store.Client
	confClient   store.Client
	user         store.User
}

func newGrantFixture(t *testing.T) *grantFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keyService, err := keys.NewService("https://id.example.com", 2048, logger)
	if err != nil {
		t.Fatalf("failed to create key service: %v", err)
	}

	fs := newFakeStore()

	secretHash, err := bcrypt.GenerateFromPassword([]byte(testClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}

	publicClient := store.Client{
		ID:            uuid.Must(uuid.NewV7()),
		ClientID:      "spa-client",
		Name:          "Browser App",
		RedirectURIs:  []string{"https://app.example.com/callback"},
		AllowedGrants: []string{store.GrantAuthorizationCode, store.GrantRefreshToken},
		AllowedScopes: []string{"openid", "profile", "email"},
		IsPublic:      true,
		Status:        store.ClientStatusActive,
	}
	confClient := store.Client{
		ID:               uuid.Must(uuid.NewV7()),
		ClientID:         "server-client",
		ClientSecretHash: string(secretHash),
		Name:             "Backend",
		RedirectURIs:     []string{"https://service.example.com/callback"},
		AllowedGrants:    []string{store.GrantAuthorizationCode, store.GrantRefreshToken, store.GrantClientCredentials},
		AllowedScopes:    []string{"openid", "profile", "api:read"},
		Status:           store.ClientStatusActive,
	}
	fs.clients[publicClient.ClientID] = publicClient
	fs.clients[confClient.ClientID] = confClient

	user := store.User{
		ID:            uuid.Must(uuid.NewV7()),
		Email:         "user@example.com",
		EmailVerified: true,
		Name:          "Test User",
		Status:        store.UserStatusActive,
	}
	fs.users[user.ID] = user

	publisher := &stubPublisher{}
	service := NewService(fs, keyService, publisher, config.Token{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		AuthCodeTTL:     10 * time.Minute,
	}, logger)

	return &grantFixture{
		service:      service,
		store:        fs,
		publisher:    publisher,
		publicClient: publicClient,
		confClient:   confClient,
		user:         user,
	}
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError with code %s, got %v", code, err)
	}
	if appErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, appErr.Code, appErr.Message)
	}
}

func TestAuthorizeRejections(t *testing.T) {
	ctx := context.Background()
	fx := newGrantFixture(t)

	base := AuthorizeRequest{
		ClientID:            fx.publicClient.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "openid profile",
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: ChallengeMethodS256,
		UserID:              fx.user.ID,
	}

	t.Run("unknown client is invalid_client", func(t *testing.T) {
		req := base
		req.ClientID = "no-such-client"
		_, err := fx.service.Authorize(ctx, req)
		assertErrorCode(t, err, apperrors.CodeInvalidClient)
	})

	t.Run("suspended client is invalid_client", func(t *testing.T) {
		suspended := fx.publicClient
		suspended.ClientID = "suspended-client"
		suspended.Status = store.ClientStatusSuspended
		fx.store.clients[suspended.ClientID] = suspended

		req := base
		req.ClientID = suspended.ClientID
		_, err := fx.service.Authorize(ctx, req)
		assertErrorCode(t, err, apperrors.CodeInvalidClient)
	})

	t.Run("unregistered redirect is rejected", func(t *testing.T) {
		req := base
		req.RedirectURI = "https://app.example.com/callback/"
		_, err := fx.service.Authorize(ctx, req)
		assertErrorCode(t, err, apperrors.CodeInvalidRedirect)
	})

	t.Run("public client without challenge is rejected", func(t *testing.T) {
		req := base
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		_, err := fx.service.Authorize(ctx, req)
		assertErrorCode(t, err, apperrors.CodeInvalidRequest)
	})

	t.Run("scope outside allow-list is invalid_scope", func(t *testing.T) {
		req := base
		req.Scope = "openid admin"
		_, err := fx.service.Authorize(ctx, req)
		assertErrorCode(t, err, apperrors.CodeInvalidScope)
	})

	t.Run("confidential client may omit the challenge", func(t *testing.T) {
		req := AuthorizeRequest{
			ClientID:    fx.confClient.ClientID,
			RedirectURI: "https://service.example.com/callback",
			Scope:       "openid",
			UserID:      fx.user.ID,
		}
		result, err := fx.service.Authorize(ctx, req)
		if err != nil {
			t.Fatalf("authorize failed: %v", err)
		}
		if result.Code == "" {
			t.Fatal("expected an authorization code")
		}
	})
}

func TestAuthorizationCodeGrant(t *testing.T) {
	ctx := context.Background()

	authorize := func(t *testing.T, fx *grantFixture) string {
		t.Helper()
		result, err := fx.service.Authorize(ctx, AuthorizeRequest{
			ClientID:            fx.publicClient.ClientID,
			RedirectURI:         "https://app.example.com/callback",
			Scope:               "openid profile",
			CodeChallenge:       s256Challenge(testVerifier),
			CodeChallengeMethod: ChallengeMethodS256,
			UserID:              fx.user.ID,
		})
		if err != nil {
			t.Fatalf("authorize failed: %v", err)
		}
		return result.Code
	}

	exchange := func(fx *grantFixture, code, verifier, redirectURI string) (TokenResponse, error) {
		return fx.service.Token(ctx, TokenRequest{
			GrantType:    store.GrantAuthorizationCode,
			Code:         code,
			RedirectURI:  redirectURI,
			CodeVerifier: verifier,
			ClientID:     fx.publicClient.ClientID,
		})
	}

	t.Run("exchange issues tokens", func(t *testing.T) {
		fx := newGrantFixture(t)
		code := authorize(t, fx)

		tokens, err := exchange(fx, code, testVerifier, "https://app.example.com/callback")
		if err != nil {
			t.Fatalf("exchange failed: %v", err)
		}
		if tokens.AccessToken == "" || tokens.RefreshToken == "" {
			t.Fatal("expected both access and refresh tokens")
		}
		if tokens.TokenType != "Bearer" {
			t.Errorf("unexpected token type %q", tokens.TokenType)
		}
		if tokens.IDToken == "" {
			t.Error("expected an ID token for the openid scope")
		}

		found := false
		for _, event := range fx.publisher.events {
			if event == EventTokenIssued {
				found = true
			}
		}
		if !found {
			t.Error("expected token.issued event")
		}
	})

	t.Run("replayed code is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		code := authorize(t, fx)

		if _, err := exchange(fx, code, testVerifier, "https://app.example.com/callback"); err != nil {
			t.Fatalf("first exchange failed: %v", err)
		}
		_, err := exchange(fx, code, testVerifier, "https://app.example.com/callback")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("unknown code is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		_, err := exchange(fx, "never-issued", testVerifier, "https://app.example.com/callback")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("wrong verifier is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		code := authorize(t, fx)

		wrong := strings.Repeat("x", 43)
		_, err := exchange(fx, code, wrong, "https://app.example.com/callback")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("redirect mismatch is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		code := authorize(t, fx)

		_, err := exchange(fx, code, testVerifier, "https://app.example.com/other")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("expired code is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		fx.store.codes["stale"] = &store.AuthorizationCode{
			Code:                "stale",
			ClientID:            fx.publicClient.ID,
			UserID:              fx.user.ID,
			RedirectURI:         "https://app.example.com/callback",
			CodeChallenge:       s256Challenge(testVerifier),
			CodeChallengeMethod: ChallengeMethodS256,
			ExpiresAt:           time.Now().Add(-time.Minute),
		}

		_, err := exchange(fx, "stale", testVerifier, "https://app.example.com/callback")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("code of another client is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		fx.store.codes["foreign"] = &store.AuthorizationCode{
			Code:        "foreign",
			ClientID:    fx.confClient.ID,
			UserID:      fx.user.ID,
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(time.Minute),
		}

		_, err := exchange(fx, "foreign", testVerifier, "https://app.example.com/callback")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("public client code without challenge is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		fx.store.codes["bare"] = &store.AuthorizationCode{
			Code:        "bare",
			ClientID:    fx.publicClient.ID,
			UserID:      fx.user.ID,
			RedirectURI: "https://app.example.com/callback",
			ExpiresAt:   time.Now().Add(time.Minute),
		}

		_, err := exchange(fx, "bare", "", "https://app.example.com/callback")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("wrong client secret is invalid_client", func(t *testing.T) {
		fx := newGrantFixture(t)
		_, err := fx.service.Token(ctx, TokenRequest{
			GrantType:    store.GrantAuthorizationCode,
			Code:         "whatever",
			ClientID:     fx.confClient.ClientID,
			ClientSecret: "wrong",
		})
		assertErrorCode(t, err, apperrors.CodeInvalidClient)
	})
}

func TestRefreshGrant(t *testing.T) {
	ctx := context.Background()

	seedToken := func(fx *grantFixture, raw string, client store.Client, scope string) {
		fx.store.tokens[store.HashRefreshToken(raw)] = &store.RefreshToken{
			ID:        uuid.Must(uuid.NewV7()),
			TokenHash: store.HashRefreshToken(raw),
			ClientID:  client.ID,
			UserID:    fx.user.ID,
			Scope:     scope,
			ExpiresAt: time.Now().Add(time.Hour),
		}
	}

	refresh := func(fx *grantFixture, raw, scope string) (TokenResponse, error) {
		return fx.service.Token(ctx, TokenRequest{
			GrantType:    store.GrantRefreshToken,
			RefreshToken: raw,
			Scope:        scope,
			ClientID:     fx.confClient.ClientID,
			ClientSecret: testClientSecret,
		})
	}

	t.Run("rotation revokes the presented token", func(t *testing.T) {
		fx := newGrantFixture(t)
		seedToken(fx, "old-token", fx.confClient, "openid profile")

		tokens, err := refresh(fx, "old-token", "")
		if err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if tokens.RefreshToken == "" || tokens.RefreshToken == "old-token" {
			t.Fatal("expected a fresh refresh token")
		}
		if !fx.store.tokens[store.HashRefreshToken("old-token")].Revoked {
			t.Fatal("expected the presented token to be revoked")
		}

		_, err = refresh(fx, "old-token", "")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})

	t.Run("scope may narrow but never widen", func(t *testing.T) {
		fx := newGrantFixture(t)
		seedToken(fx, "narrow-token", fx.confClient, "openid profile")

		tokens, err := refresh(fx, "narrow-token", "openid")
		if err != nil {
			t.Fatalf("narrowing refresh failed: %v", err)
		}
		if tokens.Scope != "openid" {
			t.Errorf("expected narrowed scope, got %q", tokens.Scope)
		}

		seedToken(fx, "widen-token", fx.confClient, "openid")
		_, err = refresh(fx, "widen-token", "openid profile")
		assertErrorCode(t, err, apperrors.CodeInvalidScope)
	})

	t.Run("failed issuance keeps the old token valid", func(t *testing.T) {
		fx := newGrantFixture(t)
		seedToken(fx, "survivor", fx.confClient, "openid")
		fx.store.createRefreshErr = errors.New("datastore unavailable")

		if _, err := refresh(fx, "survivor", ""); err == nil {
			t.Fatal("expected refresh to fail")
		}
		if fx.store.tokens[store.HashRefreshToken("survivor")].Revoked {
			t.Fatal("a failed rotation must not revoke the presented token")
		}

		// The same token still rotates once the store recovers
		fx.store.createRefreshErr = nil
		if _, err := refresh(fx, "survivor", ""); err != nil {
			t.Fatalf("retry after recovery failed: %v", err)
		}
	})

	t.Run("token of another client is invalid_grant", func(t *testing.T) {
		fx := newGrantFixture(t)
		seedToken(fx, "spa-token", fx.publicClient, "openid")

		_, err := refresh(fx, "spa-token", "")
		assertErrorCode(t, err, apperrors.CodeInvalidGrant)
	})
}

func TestClientCredentialsGrant(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a client-subject token without refresh", func(t *testing.T) {
		fx := newGrantFixture(t)
		tokens, err := fx.service.Token(ctx, TokenRequest{
			GrantType:    store.GrantClientCredentials,
			ClientID:     fx.confClient.ClientID,
			ClientSecret: testClientSecret,
		})
		if err != nil {
			t.Fatalf("grant failed: %v", err)
		}
		if tokens.AccessToken == "" {
			t.Fatal("expected an access token")
		}
		if tokens.RefreshToken != "" {
			t.Error("client credentials grant must not issue a refresh token")
		}
		if tokens.Scope != strings.Join(fx.confClient.AllowedScopes, " ") {
			t.Errorf("expected allow-list scope default, got %q", tokens.Scope)
		}
	})

	t.Run("public client is refused", func(t *testing.T) {
		fx := newGrantFixture(t)
		_, err := fx.service.Token(ctx, TokenRequest{
			GrantType: store.GrantClientCredentials,
			ClientID:  fx.publicClient.ClientID,
		})
		assertErrorCode(t, err, apperrors.CodeUnauthorizedClient)
	})

	t.Run("unknown scope is invalid_scope", func(t *testing.T) {
		fx := newGrantFixture(t)
		_, err := fx.service.Token(ctx, TokenRequest{
			GrantType:    store.GrantClientCredentials,
			ClientID:     fx.confClient.ClientID,
			ClientSecret: testClientSecret,
			Scope:        "api:write",
		})
		assertErrorCode(t, err, apperrors.CodeInvalidScope)
	})
}
