package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/abuse"
	"github.com/signet-id/signet/internal/account"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/passkey"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/web/middleware"
	"github.com/signet-id/signet/internal/web/response"
)

type AuthHandler struct {
	Config         *config.Config
	Logger         *slog.Logger
	AccountService *account.Service
	PasskeyService *passkey.Service
	KeyService     *keys.Service
	Store          *store.Store
	RateLimiter    *abuse.RateLimiter
}

func NewAuthHandler(cfg *config.Config, logger *slog.Logger, accountService *account.Service, passkeyService *passkey.Service, keyService *keys.Service, st *store.Store, rateLimiter *abuse.RateLimiter) AuthHandler {
	return AuthHandler{
		Config:         cfg,
		Logger:         logger,
		AccountService: accountService,
		PasskeyService: passkeyService,
		KeyService:     keyService,
		Store:          st,
		RateLimiter:    rateLimiter,
	}
}

func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	// Verification traffic is keyed on the submitted identity, not the IP,
	// so attacks spread across addresses still hit one budget
	authLimit := middleware.RateLimitMiddleware(h.RateLimiter, middleware.RateLimit{
		Requests: h.Config.RateLimit.AuthRequests,
		KeyFunc:  middleware.KeyByIdentifier,
	})

	mux.Handle("POST /auth/code/send", authLimit(http.HandlerFunc(h.HandleSendCode)))
	mux.Handle("POST /auth/code/verify", authLimit(http.HandlerFunc(h.HandleVerifyCode)))

	mux.Handle("POST /auth/passkey/login/begin", authLimit(http.HandlerFunc(h.HandlePasskeyLoginBegin)))
	mux.Handle("POST /auth/passkey/login/finish", authLimit(http.HandlerFunc(h.HandlePasskeyLoginFinish)))

	registerAuth := middleware.BearerAuthMiddleware(h.KeyService)
	mux.Handle("POST /auth/passkey/register/begin", registerAuth(http.HandlerFunc(h.HandlePasskeyRegisterBegin)))
	mux.Handle("POST /auth/passkey/register/finish", registerAuth(http.HandlerFunc(h.HandlePasskeyRegisterFinish)))
	mux.Handle("GET /auth/passkey", registerAuth(http.HandlerFunc(h.HandlePasskeyList)))
	mux.Handle("DELETE /auth/passkey/{passkey_id}", registerAuth(http.HandlerFunc(h.HandlePasskeyDelete)))
}

// HandleSendCode issues a verification code. The response is identical for
// known and unknown identities.
func (h *AuthHandler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.ErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	if err := h.AccountService.SendCode(r.Context(), r.PostFormValue("identifier")); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, map[string]string{
		"message": "If the identity exists, a verification code has been sent",
	})
}

// HandleVerifyCode checks a submitted verification code
func (h *AuthHandler) HandleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.ErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	req := account.VerifyCodeRequest{
		Identifier: r.PostFormValue("identifier"),
		Code:       r.PostFormValue("code"),
	}

	// An application context routes the verified event to its webhooks
	if clientID := r.PostFormValue("client_id"); clientID != "" {
		client, err := h.Store.GetClientByClientID(r.Context(), clientID)
		if err == nil {
			req.ApplicationID = client.ID
		}
	}

	if err := h.AccountService.VerifyCode(r.Context(), req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, map[string]string{"message": "identity verified"})
}

type passkeyBeginResponse struct {
	SessionID string          `json:"session_id"`
	Options   json.RawMessage `json:"options"`
}

// HandlePasskeyLoginBegin starts an assertion ceremony
func (h *AuthHandler) HandlePasskeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.ErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	options, sessionID, err := h.PasskeyService.BeginLogin(r.Context(), r.PostFormValue("identifier"))
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, passkeyBeginResponse{
		SessionID: sessionID,
		Options:   options,
	})
}

// HandlePasskeyLoginFinish validates the assertion and returns a token pair
// equivalent to a password login.
func (h *AuthHandler) HandlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		response.ErrorResponse(w, apperrors.ValidationError("session_id is required", nil), h.Logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		response.ErrorResponse(w, apperrors.InvalidRequestError("failed to read request body", err), h.Logger)
		return
	}

	user, err := h.PasskeyService.FinishLogin(r.Context(), sessionID, body)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, map[string]string{
		"user_id": user.ID.String(),
	})
}

// HandlePasskeyRegisterBegin starts credential creation for the token's user
func (h *AuthHandler) HandlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	userID, err := subjectUserID(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	options, sessionID, err := h.PasskeyService.BeginRegistration(r.Context(), userID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, passkeyBeginResponse{
		SessionID: sessionID,
		Options:   options,
	})
}

// HandlePasskeyRegisterFinish stores the new credential
func (h *AuthHandler) HandlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		response.ErrorResponse(w, apperrors.ValidationError("session_id is required", nil), h.Logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		response.ErrorResponse(w, apperrors.InvalidRequestError("failed to read request body", err), h.Logger)
		return
	}

	name := r.URL.Query().Get("name")
	if err := h.PasskeyService.FinishRegistration(r.Context(), sessionID, body, name); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, map[string]string{"message": "passkey registered"})
}

type passkeySummary struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// HandlePasskeyList returns the token holder's registered passkeys.
// Credential material never leaves the server.
func (h *AuthHandler) HandlePasskeyList(w http.ResponseWriter, r *http.Request) {
	userID, err := subjectUserID(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	passkeys, err := h.PasskeyService.List(r.Context(), userID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	summaries := make([]passkeySummary, 0, len(passkeys))
	for _, pk := range passkeys {
		summaries = append(summaries, passkeySummary{
			ID:         pk.ID,
			Name:       pk.Name,
			CreatedAt:  pk.CreatedAt,
			LastUsedAt: pk.LastUsedAt,
		})
	}

	response.SuccessResponse(w, summaries)
}

// HandlePasskeyDelete removes one of the token holder's passkeys
func (h *AuthHandler) HandlePasskeyDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := subjectUserID(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	passkeyID, err := uuid.Parse(r.PathValue("passkey_id"))
	if err != nil {
		response.ErrorResponse(w, apperrors.ValidationError("invalid passkey ID", err), h.Logger)
		return
	}

	if err := h.PasskeyService.Delete(r.Context(), userID, passkeyID); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, map[string]string{"message": "passkey deleted"})
}

// subjectUserID extracts the user behind the verified bearer token
func subjectUserID(r *http.Request) (uuid.UUID, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, apperrors.UnauthorizedError("missing token claims", nil)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperrors.UnauthorizedError("token subject is not a user", err)
	}
	return userID, nil
}
