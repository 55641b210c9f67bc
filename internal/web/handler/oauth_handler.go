package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/signet-id/signet/internal/abuse"
	"github.com/signet-id/signet/internal/account"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/oauth"
	"github.com/signet-id/signet/internal/web/middleware"
	"github.com/signet-id/signet/internal/web/response"
)

type OAuthHandler struct {
	Config         *config.Config
	Logger         *slog.Logger
	OAuthService   *oauth.Service
	AccountService *account.Service
	KeyService     *keys.Service
	RateLimiter    *abuse.RateLimiter
}

func NewOAuthHandler(cfg *config.Config, logger *slog.Logger, oauthService *oauth.Service, accountService *account.Service, keyService *keys.Service, rateLimiter *abuse.RateLimiter) OAuthHandler {
	return OAuthHandler{
		Config:         cfg,
		Logger:         logger,
		OAuthService:   oauthService,
		AccountService: accountService,
		KeyService:     keyService,
		RateLimiter:    rateLimiter,
	}
}

func (h *OAuthHandler) RegisterRoutes(mux *http.ServeMux) {
	oauthLimit := middleware.RateLimitMiddleware(h.RateLimiter, middleware.RateLimit{
		Requests: h.Config.RateLimit.OAuthRequests,
		KeyFunc:  middleware.KeyByClientID,
	})
	publicLimit := middleware.RateLimitMiddleware(h.RateLimiter, middleware.RateLimit{
		Requests: h.Config.RateLimit.PublicRequests,
		KeyFunc:  middleware.KeyByIP,
	})

	mux.Handle("GET /oauth2/authorize", oauthLimit(http.HandlerFunc(h.HandleAuthorize)))
	mux.Handle("POST /oauth2/authorize", oauthLimit(http.HandlerFunc(h.HandleAuthorize)))
	mux.Handle("POST /oauth2/token", oauthLimit(http.HandlerFunc(h.HandleToken)))
	mux.Handle("POST /oauth2/revoke", oauthLimit(http.HandlerFunc(h.HandleRevoke)))
	mux.Handle("GET /oauth2/userinfo", publicLimit(http.HandlerFunc(h.HandleUserInfo)))

	mux.Handle("GET /.well-known/openid-configuration", publicLimit(http.HandlerFunc(h.HandleWellKnownConfiguration)))
	mux.Handle("GET /.well-known/jwks.json", publicLimit(http.HandlerFunc(h.HandleJWKS)))

	adminAuth := middleware.BearerAuthMiddleware(h.KeyService)
	mux.Handle("POST /admin/keys/rotate", adminAuth(http.HandlerFunc(h.HandleRotateKeys)))
}

// HandleAuthorize authenticates the resource owner and redirects back to
// the client with a fresh authorization code. Errors that predate redirect
// URI validation are answered directly, never via redirect.
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		response.OAuthErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	user, err := h.AccountService.Login(ctx, r.FormValue("identifier"), r.FormValue("password"))
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	result, err := h.OAuthService.Authorize(ctx, oauth.AuthorizeRequest{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
		UserID:              user.ID,
	})
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	redirect, err := url.Parse(result.RedirectURI)
	if err != nil {
		response.OAuthErrorResponse(w, apperrors.InvalidRedirectError("unparseable redirect_uri", err), h.Logger)
		return
	}

	query := redirect.Query()
	query.Set("code", result.Code)
	if result.State != "" {
		query.Set("state", result.State)
	}
	redirect.RawQuery = query.Encode()

	response.Redirect(w, http.StatusFound, redirect.String())
}

// HandleToken serves all three grants from one endpoint
func (h *OAuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.OAuthErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	clientID, clientSecret := clientCredentials(r)

	tokens, err := h.OAuthService.Token(r.Context(), oauth.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, tokens)
}

// HandleRevoke invalidates a refresh token. Per RFC 7009 the response is
// 200 whether or not the token existed.
func (h *OAuthHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.OAuthErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	clientID, clientSecret := clientCredentials(r)

	err := h.OAuthService.Revoke(r.Context(), oauth.TokenRequest{
		RefreshToken: r.PostFormValue("token"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// HandleUserInfo resolves claims for the presented bearer token
func (h *OAuthHandler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		response.OAuthErrorResponse(w, apperrors.UnauthorizedError("missing bearer token", nil), h.Logger)
		return
	}

	info, err := h.OAuthService.UserInfo(r.Context(), token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		response.OAuthErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, info)
}

// HandleWellKnownConfiguration serves the OpenID Connect discovery document
func (h *OAuthHandler) HandleWellKnownConfiguration(w http.ResponseWriter, r *http.Request) {
	response.JSONResponse(w, http.StatusOK, oauth.DiscoveryDocument(h.Config.GetBaseURL()))
}

// HandleJWKS publishes the verification keys, current and retired
func (h *OAuthHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	response.JSONResponse(w, http.StatusOK, h.KeyService.PublicKeySet())
}

// HandleRotateKeys retires the current signing key and generates a new one.
// Outstanding tokens keep verifying against the retired public key. Requires
// a token carrying the admin scope.
func (h *OAuthHandler) HandleRotateKeys(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || !hasScopeValue(claims.Scope, "admin") {
		response.ErrorResponse(w, apperrors.UnauthorizedError("admin scope required", nil), h.Logger)
		return
	}

	if err := h.KeyService.Rotate(); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, map[string]string{"message": "signing key rotated"})
}

func hasScopeValue(scope, name string) bool {
	for _, s := range strings.Fields(scope) {
		if s == name {
			return true
		}
	}
	return false
}

// clientCredentials reads client authentication from Basic auth or, failing
// that, the form body.
func clientCredentials(r *http.Request) (string, string) {
	if clientID, clientSecret, ok := r.BasicAuth(); ok {
		return clientID, clientSecret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
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
