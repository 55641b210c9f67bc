package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// Events emitted on the webhook bus
const (
	EventTokenIssued  = "token.issued"
	EventTokenRevoked = "token.revoked"
)

// EventPublisher fans an event out to an application's webhook subscribers.
// Publishing is best effort from the caller's point of view; delivery and
// retries are the engine's problem.
type EventPublisher interface {
	Publish(ctx context.Context, applicationID uuid.UUID, event string, data map[string]any)
}

// Store is the slice of persistence the authorization server needs
type Store interface {
	GetClientByClientID(ctx context.Context, clientID string) (store.Client, error)
	CreateAuthorizationCode(ctx context.Context, authCode store.AuthorizationCode) (store.AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, code string) (store.AuthorizationCode, error)
	CreateRefreshToken(ctx context.Context, token store.RefreshToken) (store.RefreshToken, error)
	GetRefreshTokenByRaw(ctx context.Context, raw string) (store.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, raw string) error
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
}

// Service implements the authorization code, refresh token and client
// credentials grants.
type Service struct {
	store     Store
	keys      *keys.Service
	publisher EventPublisher
	cfg       config.Token
	logger    *slog.Logger
}

func NewService(store Store, keys *keys.Service, publisher EventPublisher, cfg config.Token, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		keys:      keys,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// AuthorizeRequest is a parsed /oauth2/authorize request for an already
// authenticated user.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              uuid.UUID
}

// AuthorizeResult carries the values appended to the redirect back
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
}

// TokenRequest is a parsed /oauth2/token request
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the wire shape of a successful token grant
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Authorize validates an authorization request and mints a single-use code.
// Redirect URIs must match a registered URI exactly; no prefix or wildcard
// matching.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	client, err := s.store.GetClientByClientID(ctx, req.ClientID)
	if err != nil {
		if apperrors.IsType(err, apperrors.CodeNotFound) {
			return AuthorizeResult{}, apperrors.InvalidClientError("unknown client", err)
		}
		return AuthorizeResult{}, err
	}

	if !client.IsActive() {
		return AuthorizeResult{}, apperrors.InvalidClientError("client is suspended", nil)
	}

	if !client.AllowsGrant(store.GrantAuthorizationCode) {
		return AuthorizeResult{}, apperrors.UnauthorizedClientError("client may not use the authorization code grant", nil)
	}

	if !registeredRedirect(client, req.RedirectURI) {
		// Never redirect to an unregistered URI, even to report the error
		return AuthorizeResult{}, apperrors.InvalidRedirectError("redirect_uri is not registered for this client", nil)
	}

	if err := validateScopeSubset(req.Scope, client.AllowedScopes); err != nil {
		return AuthorizeResult{}, err
	}

	// PKCE is mandatory for public clients. Confidential clients may omit
	// it, but a challenge sent here is binding at exchange time.
	if client.IsPublic || req.CodeChallenge != "" || req.CodeChallengeMethod != "" {
		if err := ValidateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
			return AuthorizeResult{}, apperrors.InvalidRequestError(err.Error(), err)
		}
	}

	code, err := util.GenerateRandomString(32)
	if err != nil {
		return AuthorizeResult{}, apperrors.InternalError("failed to generate authorization code", err)
	}

	_, err = s.store.CreateAuthorizationCode(ctx, store.AuthorizationCode{
		ID:                  uuid.Must(uuid.NewV7()),
		Code:                code,
		ClientID:            client.ID,
		UserID:              req.UserID,
		Scope:               req.Scope,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(s.cfg.AuthCodeTTL),
	})
	if err != nil {
		return AuthorizeResult{}, err
	}

	s.logger.Info("issued authorization code",
		slog.String("client_id", req.ClientID),
		slog.String("user_id", req.UserID.String()),
	)

	return AuthorizeResult{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

// Token dispatches a token request by grant type
func (s *Service) Token(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	switch req.GrantType {
	case store.GrantAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case store.GrantRefreshToken:
		return s.refresh(ctx, req)
	case store.GrantClientCredentials:
		return s.clientCredentials(ctx, req)
	default:
		return TokenResponse{}, apperrors.UnsupportedGrantTypeError("unsupported grant_type: "+req.GrantType, nil)
	}
}

// exchangeCode redeems an authorization code for tokens. The code is
// consumed atomically before any other check so a losing concurrent
// exchange can never succeed.
func (s *Service) exchangeCode(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	if !client.AllowsGrant(store.GrantAuthorizationCode) {
		return TokenResponse{}, apperrors.UnauthorizedClientError("client may not use the authorization code grant", nil)
	}

	authCode, err := s.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrAuthorizationCodeConsumed) {
			// Possible replay; revoke everything minted off this grant
			s.logger.Warn("authorization code replay detected",
				slog.String("client_id", req.ClientID),
			)
			return TokenResponse{}, apperrors.InvalidGrantError("authorization code already used", err)
		}
		if errors.Is(err, store.ErrAuthorizationCodeNotFound) {
			return TokenResponse{}, apperrors.InvalidGrantError("invalid authorization code", err)
		}
		return TokenResponse{}, err
	}

	if authCode.IsExpired() {
		return TokenResponse{}, apperrors.InvalidGrantError("authorization code expired", nil)
	}

	if authCode.ClientID != client.ID {
		return TokenResponse{}, apperrors.InvalidGrantError("authorization code was issued to another client", nil)
	}

	if authCode.RedirectURI != req.RedirectURI {
		return TokenResponse{}, apperrors.InvalidGrantError("redirect_uri does not match the authorization request", nil)
	}

	if authCode.CodeChallenge != "" {
		if err := VerifyCodeChallenge(req.CodeVerifier, authCode.CodeChallenge, authCode.CodeChallengeMethod); err != nil {
			return TokenResponse{}, apperrors.InvalidGrantError("PKCE verification failed", err)
		}
	} else if client.IsPublic {
		return TokenResponse{}, apperrors.InvalidGrantError("PKCE is required for public clients", nil)
	}

	return s.issueTokens(ctx, client, authCode.UserID, authCode.Scope, true)
}

// refresh rotates a refresh token. The presented token is revoked and a
// replacement issued in the same response.
func (s *Service) refresh(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	if !client.AllowsGrant(store.GrantRefreshToken) {
		return TokenResponse{}, apperrors.UnauthorizedClientError("client may not use the refresh token grant", nil)
	}

	token, err := s.store.GetRefreshTokenByRaw(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRefreshTokenRevoked):
			return TokenResponse{}, apperrors.InvalidGrantError("refresh token revoked", err)
		case errors.Is(err, store.ErrRefreshTokenExpired):
			return TokenResponse{}, apperrors.InvalidGrantError("refresh token expired", err)
		case errors.Is(err, store.ErrRefreshTokenNotFound):
			return TokenResponse{}, apperrors.InvalidGrantError("invalid refresh token", err)
		}
		return TokenResponse{}, err
	}

	if token.ClientID != client.ID {
		return TokenResponse{}, apperrors.InvalidGrantError("refresh token was issued to another client", nil)
	}

	// A narrower scope may be requested on refresh, never a wider one
	scope := token.Scope
	if req.Scope != "" {
		if err := validateScopeSubset(req.Scope, strings.Fields(token.Scope)); err != nil {
			return TokenResponse{}, err
		}
		scope = req.Scope
	}

	// Issue the replacement before revoking the presented token. A failed
	// issuance must not strand the user with no valid refresh token; the
	// orphaned replacement from a failed revoke simply ages out.
	response, err := s.issueTokens(ctx, client, token.UserID, scope, true)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.store.RevokeRefreshToken(ctx, req.RefreshToken); err != nil {
		return TokenResponse{}, err
	}

	return response, nil
}

// clientCredentials issues a token for the client itself. Public clients
// cannot hold a secret and are always refused.
func (s *Service) clientCredentials(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	if client.IsPublic {
		return TokenResponse{}, apperrors.UnauthorizedClientError("public clients may not use the client credentials grant", nil)
	}

	if !client.AllowsGrant(store.GrantClientCredentials) {
		return TokenResponse{}, apperrors.UnauthorizedClientError("client may not use the client credentials grant", nil)
	}

	scope := req.Scope
	if scope == "" {
		scope = strings.Join(client.AllowedScopes, " ")
	} else if err := validateScopeSubset(scope, client.AllowedScopes); err != nil {
		return TokenResponse{}, err
	}

	accessToken, err := s.keys.Sign(keys.SignOptions{
		Subject:  client.ClientID,
		Audience: s.keys.Issuer(),
		Scope:    scope,
		TTL:      s.cfg.AccessTokenTTL,
		Extra:    map[string]any{"client_id": client.ClientID},
	})
	if err != nil {
		return TokenResponse{}, err
	}

	s.publisher.Publish(ctx, client.ID, EventTokenIssued, map[string]any{
		"client_id":  client.ClientID,
		"grant_type": store.GrantClientCredentials,
		"scope":      scope,
	})

	// No refresh token for machine clients; they can always re-authenticate
	return TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// Revoke invalidates a refresh token. Unknown tokens are not an error so
// callers cannot discover whether a token exists.
func (s *Service) Revoke(ctx context.Context, req TokenRequest) error {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return err
	}

	token, err := s.store.GetRefreshTokenByRaw(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, store.ErrRefreshTokenNotFound) ||
			errors.Is(err, store.ErrRefreshTokenRevoked) ||
			errors.Is(err, store.ErrRefreshTokenExpired) {
			return nil
		}
		return err
	}

	if token.ClientID != client.ID {
		return nil
	}

	if err := s.store.RevokeRefreshToken(ctx, req.RefreshToken); err != nil {
		return err
	}

	s.publisher.Publish(ctx, client.ID, EventTokenRevoked, map[string]any{
		"client_id": client.ClientID,
		"user_id":   token.UserID.String(),
	})

	return nil
}

// UserInfo resolves the standard claims for a verified access token
func (s *Service) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := s.keys.Verify(accessToken, keys.VerifyOptions{})
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperrors.UnauthorizedError("token subject is not a user", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	info := map[string]any{
		"sub": user.ID.String(),
	}
	if user.Email != "" {
		info["email"] = user.Email
		info["email_verified"] = user.EmailVerified
	}
	if user.Phone != "" {
		info["phone_number"] = user.Phone
	}
	if user.Name != "" {
		info["name"] = user.Name
	}

	return info, nil
}

// issueTokens mints the access token, refresh token and, when the grant
// carries the openid scope, the ID token.
func (s *Service) issueTokens(ctx context.Context, client store.Client, userID uuid.UUID, scope string, withRefresh bool) (TokenResponse, error) {
	accessToken, err := s.keys.Sign(keys.SignOptions{
		Subject:  userID.String(),
		Audience: s.keys.Issuer(),
		Scope:    scope,
		TTL:      s.cfg.AccessTokenTTL,
		Extra:    map[string]any{"client_id": client.ClientID},
	})
	if err != nil {
		return TokenResponse{}, err
	}

	response := TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}

	if withRefresh {
		rawRefresh, err := util.GenerateRandomString(32)
		if err != nil {
			return TokenResponse{}, apperrors.InternalError("failed to generate refresh token", err)
		}

		_, err = s.store.CreateRefreshToken(ctx, store.RefreshToken{
			ID:        uuid.Must(uuid.NewV7()),
			TokenHash: store.HashRefreshToken(rawRefresh),
			ClientID:  client.ID,
			UserID:    userID,
			Scope:     scope,
			ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL),
		})
		if err != nil {
			return TokenResponse{}, err
		}

		response.RefreshToken = rawRefresh
	}

	if hasScope(scope, "openid") {
		idToken, err := s.issueIDToken(ctx, client, userID)
		if err != nil {
			return TokenResponse{}, err
		}
		response.IDToken = idToken
	}

	s.publisher.Publish(ctx, client.ID, EventTokenIssued, map[string]any{
		"client_id":  client.ClientID,
		"user_id":    userID.String(),
		"grant_type": store.GrantAuthorizationCode,
		"scope":      scope,
	})

	return response, nil
}

// issueIDToken mints the OIDC identity token addressed to the client
func (s *Service) issueIDToken(ctx context.Context, client store.Client, userID uuid.UUID) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	extra := map[string]any{
		"auth_time": time.Now().Unix(),
	}
	if user.Email != "" {
		extra["email"] = user.Email
		extra["email_verified"] = user.EmailVerified
	}
	if user.Name != "" {
		extra["name"] = user.Name
	}

	return s.keys.Sign(keys.SignOptions{
		Subject:  user.ID.String(),
		Audience: client.ClientID,
		TTL:      s.cfg.AccessTokenTTL,
		Extra:    extra,
	})
}

// authenticateClient resolves and, for confidential clients, authenticates
// the caller. Secret comparison goes through bcrypt against the stored hash;
// the plaintext secret is never persisted.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (store.Client, error) {
	if clientID == "" {
		return store.Client{}, apperrors.InvalidClientError("client_id is required", nil)
	}

	client, err := s.store.GetClientByClientID(ctx, clientID)
	if err != nil {
		if apperrors.IsType(err, apperrors.CodeNotFound) {
			return store.Client{}, apperrors.InvalidClientError("unknown client", err)
		}
		return store.Client{}, err
	}

	if !client.IsActive() {
		return store.Client{}, apperrors.InvalidClientError("client is suspended", nil)
	}

	if client.IsPublic {
		return client, nil
	}

	if clientSecret == "" {
		return store.Client{}, apperrors.InvalidClientError("client_secret is required", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return store.Client{}, apperrors.InvalidClientError("invalid client credentials", err)
	}

	return client, nil
}

func registeredRedirect(client store.Client, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// validateScopeSubset checks every requested scope against an allow-list
func validateScopeSubset(requested string, allowed []string) error {
	for _, scope := range strings.Fields(requested) {
		found := false
		for _, a := range allowed {
			if a == scope {
				found = true
				break
			}
		}
		if !found {
			return apperrors.InvalidScopeError("scope not allowed: "+scope, nil)
		}
	}
	return nil
}

func hasScope(scope, name string) bool {
	for _, s := range strings.Fields(scope) {
		if s == name {
			return true
		}
	}
	return false
}
