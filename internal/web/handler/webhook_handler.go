package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/keys"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/util"
	"github.com/signet-id/signet/internal/web/middleware"
	"github.com/signet-id/signet/internal/web/response"
	"github.com/signet-id/signet/internal/webhook"
)

const deliveryHistoryLimit = 100

type WebhookHandler struct {
	Logger     *slog.Logger
	Store      *store.Store
	Engine     *webhook.Engine
	KeyService *keys.Service
}

func NewWebhookHandler(logger *slog.Logger, st *store.Store, engine *webhook.Engine, keyService *keys.Service) WebhookHandler {
	return WebhookHandler{
		Logger:     logger,
		Store:      st,
		Engine:     engine,
		KeyService: keyService,
	}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	auth := middleware.BearerAuthMiddleware(h.KeyService)

	mux.Handle("POST /webhooks", auth(http.HandlerFunc(h.HandleCreate)))
	mux.Handle("GET /webhooks", auth(http.HandlerFunc(h.HandleList)))
	mux.Handle("GET /webhooks/{webhook_id}/deliveries", auth(http.HandlerFunc(h.HandleDeliveries)))
	mux.Handle("POST /webhooks/{webhook_id}/test", auth(http.HandlerFunc(h.HandleTest)))
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type webhookResponse struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
	Active bool     `json:"active"`
}

// HandleCreate registers a subscription for the calling application. The
// signing secret is returned exactly once, at creation.
func (h *WebhookHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	client, err := h.callingClient(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorResponse(w, apperrors.InvalidRequestError("malformed request body", err), h.Logger)
		return
	}

	if req.URL == "" {
		response.ErrorResponse(w, apperrors.ValidationError("url is required", nil), h.Logger)
		return
	}
	if len(req.Events) == 0 {
		response.ErrorResponse(w, apperrors.ValidationError("at least one event is required", nil), h.Logger)
		return
	}

	secret, err := util.GenerateRandomString(32)
	if err != nil {
		response.ErrorResponse(w, apperrors.InternalError("failed to generate webhook secret", err), h.Logger)
		return
	}

	hook, err := h.Store.CreateWebhook(r.Context(), store.Webhook{
		ID:            uuid.Must(uuid.NewV7()),
		ApplicationID: client.ID,
		URL:           req.URL,
		Events:        req.Events,
		Secret:        secret,
		IsActive:      true,
	})
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusCreated, webhookResponse{
		ID:     hook.ID.String(),
		URL:    hook.URL,
		Events: hook.Events,
		Secret: secret,
		Active: hook.IsActive,
	})
}

// HandleList returns the calling application's subscriptions, without secrets
func (h *WebhookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	client, err := h.callingClient(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	hooks, err := h.Store.ListActiveWebhooksForApplication(r.Context(), client.ID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	list := make([]webhookResponse, 0, len(hooks))
	for _, hook := range hooks {
		list = append(list, webhookResponse{
			ID:     hook.ID.String(),
			URL:    hook.URL,
			Events: hook.Events,
			Active: hook.IsActive,
		})
	}

	response.SuccessResponse(w, list)
}

type deliveryResponse struct {
	ID             string `json:"id"`
	Event          string `json:"event"`
	Status         string `json:"status"`
	ResponseStatus *int   `json:"response_status,omitempty"`
	AttemptCount   int    `json:"attempt_count"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// HandleDeliveries exposes the delivery history of one webhook
func (h *WebhookHandler) HandleDeliveries(w http.ResponseWriter, r *http.Request) {
	hook, err := h.ownedWebhook(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	deliveries, err := h.Store.ListDeliveriesForWebhook(r.Context(), hook.ID, deliveryHistoryLimit)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	list := make([]deliveryResponse, 0, len(deliveries))
	for _, delivery := range deliveries {
		list = append(list, deliveryResponse{
			ID:             delivery.ID.String(),
			Event:          delivery.Event,
			Status:         delivery.Status,
			ResponseStatus: delivery.ResponseStatus,
			AttemptCount:   delivery.AttemptCount,
			LastError:      delivery.LastError,
			CreatedAt:      delivery.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:      delivery.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	response.SuccessResponse(w, list)
}

// HandleTest fires a ping event synchronously at the endpoint
func (h *WebhookHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	hook, err := h.ownedWebhook(r)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	result, err := h.Engine.Test(r.Context(), hook.ID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.SuccessResponse(w, result)
}

// callingClient resolves the OAuth client behind the bearer token. Webhook
// management requires a client credentials token.
func (h *WebhookHandler) callingClient(r *http.Request) (store.Client, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return store.Client{}, apperrors.UnauthorizedError("missing token claims", nil)
	}

	clientID, _ := claims.Extra["client_id"].(string)
	if clientID == "" {
		return store.Client{}, apperrors.UnauthorizedError("token does not identify a client", nil)
	}

	return h.Store.GetClientByClientID(r.Context(), clientID)
}

// ownedWebhook loads the webhook in the path and checks it belongs to the
// calling application.
func (h *WebhookHandler) ownedWebhook(r *http.Request) (store.Webhook, error) {
	client, err := h.callingClient(r)
	if err != nil {
		return store.Webhook{}, err
	}

	webhookID, err := uuid.Parse(r.PathValue("webhook_id"))
	if err != nil {
		return store.Webhook{}, apperrors.ValidationError("invalid webhook id", err)
	}

	hook, err := h.Store.GetWebhookByID(r.Context(), webhookID)
	if err != nil {
		return store.Webhook{}, err
	}

	if hook.ApplicationID != client.ID {
		// Report not-found rather than forbidden to avoid confirming
		// another application's webhook ids
		return store.Webhook{}, apperrors.NotFoundError("webhook not found", nil)
	}

	return hook, nil
}
