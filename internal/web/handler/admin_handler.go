package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/util"
	"github.com/signet-id/signet/internal/web/middleware"
	"github.com/signet-id/signet/internal/web/response"
)

const rotatedSecretLength = 48

// AdminHandler exposes operator actions. Every route requires a bearer
// token carrying the admin scope.
type AdminHandler struct {
	Logger     *slog.Logger
	Store      *store.Store
	KeyService *keys.Service
}

func NewAdminHandler(logger *slog.Logger, st *store.Store, keyService *keys.Service) AdminHandler {
	return AdminHandler{
		Logger:     logger,
		Store:      st,
		KeyService: keyService,
	}
}

func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	auth := middleware.BearerAuthMiddleware(h.KeyService)

	mux.Handle("POST /admin/clients/{client_id}/suspend", auth(http.HandlerFunc(h.HandleSuspendClient)))
	mux.Handle("POST /admin/clients/{client_id}/rotate-secret", auth(http.HandlerFunc(h.HandleRotateClientSecret)))
	mux.Handle("POST /admin/users/{user_id}/revoke-tokens", auth(http.HandlerFunc(h.HandleRevokeUserTokens)))
}

// HandleSuspendClient disables a client without deleting it, so issued
// tokens stay attributable.
func (h *AdminHandler) HandleSuspendClient(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	clientID := r.PathValue("client_id")
	if err := h.Store.SuspendClient(r.Context(), clientID); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	h.Logger.Info("client suspended", slog.String("client_id", clientID))
	response.SuccessResponse(w, map[string]string{"message": "client suspended"})
}

// HandleRotateClientSecret replaces a confidential client's secret. The
// new plaintext is returned once and never stored.
func (h *AdminHandler) HandleRotateClientSecret(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	clientID := r.PathValue("client_id")

	client, err := h.Store.GetClientByClientID(r.Context(), clientID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}
	if client.IsPublic {
		response.ErrorResponse(w, apperrors.ValidationError("public clients have no secret", nil), h.Logger)
		return
	}

	secret, err := util.GenerateRandomString(rotatedSecretLength)
	if err != nil {
		response.ErrorResponse(w, apperrors.InternalError("failed to generate secret", err), h.Logger)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		response.ErrorResponse(w, apperrors.InternalError("failed to hash secret", err), h.Logger)
		return
	}

	if err := h.Store.UpdateClientSecretHash(r.Context(), clientID, string(hash)); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	h.Logger.Info("client secret rotated", slog.String("client_id", clientID))
	response.SuccessResponse(w, map[string]string{
		"client_id":     clientID,
		"client_secret": secret,
	})
}

// HandleRevokeUserTokens revokes every outstanding refresh token for a
// user, forcing re-authentication on all their sessions.
func (h *AdminHandler) HandleRevokeUserTokens(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		response.ErrorResponse(w, apperrors.ValidationError("invalid user ID", err), h.Logger)
		return
	}

	revoked, err := h.Store.RevokeRefreshTokensForUser(r.Context(), userID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	h.Logger.Info("user refresh tokens revoked",
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", revoked),
	)
	response.SuccessResponse(w, map[string]int64{"revoked": revoked})
}

func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || !hasScopeValue(claims.Scope, "admin") {
		response.ErrorResponse(w, apperrors.UnauthorizedError("admin scope required", nil), h.Logger)
		return false
	}
	return true
}
