package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/store"
)

// Envelope is the body POSTed to subscriber endpoints
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Engine records events as pending deliveries and drives them to completion
// with at-least-once semantics. Deliveries survive restarts; a delivery in
// flight when the process dies is retried on the next lease after its
// attempt window passes.
type Engine struct {
	store  *store.Store
	client *http.Client
	cfg    config.Webhook
	logger *slog.Logger
}

func NewEngine(store *store.Store, cfg config.Webhook, logger *slog.Logger) *Engine {
	if cfg.LeaseTimeout < cfg.RequestTimeout {
		cfg.LeaseTimeout = cfg.RequestTimeout + time.Minute
	}
	return &Engine{
		store: store,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Publish fans an event out to every active subscription of the application
// that wants it. Each matching webhook gets its own delivery record so one
// slow endpoint never blocks another.
func (e *Engine) Publish(ctx context.Context, applicationID uuid.UUID, event string, data map[string]any) {
	webhooks, err := e.store.ListActiveWebhooksForApplication(ctx, applicationID)
	if err != nil {
		e.logger.Error("failed to list webhooks for event",
			slog.String("event", event),
			slog.String("application_id", applicationID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	payload, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
	if err != nil {
		e.logger.Error("failed to encode event payload",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, hook := range webhooks {
		if !hook.WantsEvent(event) {
			continue
		}

		_, err := e.store.CreateDelivery(ctx, store.Delivery{
			ID:            uuid.Must(uuid.NewV7()),
			WebhookID:     hook.ID,
			Event:         event,
			Payload:       payload,
			Status:        store.DeliveryStatusPending,
			NextAttemptAt: time.Now(),
		})
		if err != nil {
			e.logger.Error("failed to enqueue delivery",
				slog.String("event", event),
				slog.String("webhook_id", hook.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Run polls for due deliveries until the context is canceled
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Info("webhook delivery worker started",
		slog.Duration("poll_interval", e.cfg.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("webhook delivery worker stopped")
			return
		case <-ticker.C:
			e.deliverDue(ctx)
		}
	}
}

// deliverDue leases one batch and attempts each delivery
func (e *Engine) deliverDue(ctx context.Context) {
	deliveries, err := e.store.LeaseDueDeliveries(ctx, e.cfg.BatchSize, e.cfg.LeaseTimeout)
	if err != nil {
		e.logger.Error("failed to lease deliveries", slog.String("error", err.Error()))
		return
	}

	for _, delivery := range deliveries {
		e.attempt(ctx, delivery)
	}
}

// attempt performs one HTTP delivery and records the outcome
func (e *Engine) attempt(ctx context.Context, delivery store.Delivery) {
	hook, err := e.store.GetWebhookByID(ctx, delivery.WebhookID)
	if err != nil {
		e.logger.Error("delivery references missing webhook",
			slog.String("delivery_id", delivery.ID.String()),
			slog.String("error", err.Error()),
		)
		e.recordFailure(ctx, delivery, nil, "webhook no longer exists")
		return
	}

	attemptCount := delivery.AttemptCount + 1

	status, err := e.post(ctx, hook, delivery.Payload)
	if err == nil && status >= 200 && status < 300 {
		if err := e.store.MarkDeliverySucceeded(ctx, delivery.ID, status, attemptCount); err != nil {
			e.logger.Error("failed to finalize delivery",
				slog.String("delivery_id", delivery.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		e.logger.Info("webhook delivered",
			slog.String("delivery_id", delivery.ID.String()),
			slog.String("event", delivery.Event),
			slog.Int("attempt", attemptCount),
		)
		return
	}

	lastError := fmt.Sprintf("endpoint returned status %d", status)
	var responseStatus *int
	if err != nil {
		lastError = err.Error()
	} else {
		responseStatus = &status
	}

	delivery.AttemptCount = attemptCount
	if attemptCount >= e.cfg.MaxAttempts {
		e.recordTerminalFailure(ctx, delivery, responseStatus, lastError)
		return
	}

	nextAttemptAt := time.Now().Add(e.retryDelay(attemptCount))
	if err := e.store.MarkDeliveryRetry(ctx, delivery.ID, responseStatus, attemptCount, nextAttemptAt, lastError); err != nil {
		e.logger.Error("failed to reschedule delivery",
			slog.String("delivery_id", delivery.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Warn("webhook delivery failed, will retry",
		slog.String("delivery_id", delivery.ID.String()),
		slog.String("event", delivery.Event),
		slog.Int("attempt", attemptCount),
		slog.Time("next_attempt_at", nextAttemptAt),
		slog.String("error", lastError),
	)
}

func (e *Engine) recordFailure(ctx context.Context, delivery store.Delivery, responseStatus *int, lastError string) {
	e.recordTerminalFailure(ctx, delivery, responseStatus, lastError)
}

func (e *Engine) recordTerminalFailure(ctx context.Context, delivery store.Delivery, responseStatus *int, lastError string) {
	if err := e.store.MarkDeliveryFailed(ctx, delivery.ID, responseStatus, delivery.AttemptCount, lastError); err != nil {
		e.logger.Error("failed to mark delivery failed",
			slog.String("delivery_id", delivery.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Error("webhook delivery abandoned",
		slog.String("delivery_id", delivery.ID.String()),
		slog.String("event", delivery.Event),
		slog.Int("attempts", delivery.AttemptCount),
		slog.String("last_error", lastError),
	)
}

// post sends one signed request to the subscriber endpoint
func (e *Engine) post(ctx context.Context, hook store.Webhook, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build delivery request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignPayload([]byte(hook.Secret), payload))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach webhook endpoint: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// retryDelay computes the exponential backoff for the next attempt after
// attempt failures.
func (e *Engine) retryDelay(attempt int) time.Duration {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = e.cfg.BackoffBase
	expBackoff.MaxInterval = e.cfg.BackoffCap
	expBackoff.RandomizationFactor = 0.2

	delay := expBackoff.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = expBackoff.NextBackOff()
	}
	return delay
}

// TestResult is the outcome of a synchronous test delivery
type TestResult struct {
	DeliveryID     uuid.UUID `json:"delivery_id"`
	Success        bool      `json:"success"`
	ResponseStatus int       `json:"response_status,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Test sends a ping event synchronously and records it in the delivery
// history. Test deliveries are never retried.
func (e *Engine) Test(ctx context.Context, webhookID uuid.UUID) (TestResult, error) {
	hook, err := e.store.GetWebhookByID(ctx, webhookID)
	if err != nil {
		return TestResult{}, err
	}

	payload, err := json.Marshal(Envelope{
		Event:     "webhook.test",
		Timestamp: time.Now().Unix(),
		Data:      map[string]any{"webhook_id": webhookID.String()},
	})
	if err != nil {
		return TestResult{}, apperrors.InternalError("failed to encode test payload", err)
	}

	delivery, err := e.store.CreateDelivery(ctx, store.Delivery{
		ID:            uuid.Must(uuid.NewV7()),
		WebhookID:     hook.ID,
		Event:         "webhook.test",
		Payload:       payload,
		Status:        store.DeliveryStatusInFlight,
		NextAttemptAt: time.Now(),
	})
	if err != nil {
		return TestResult{}, err
	}

	result := TestResult{DeliveryID: delivery.ID}

	status, postErr := e.post(ctx, hook, payload)
	if postErr == nil && status >= 200 && status < 300 {
		result.Success = true
		result.ResponseStatus = status
		if err := e.store.MarkDeliverySucceeded(ctx, delivery.ID, status, 1); err != nil {
			return TestResult{}, err
		}
		return result, nil
	}

	lastError := fmt.Sprintf("endpoint returned status %d", status)
	var responseStatus *int
	if postErr != nil {
		lastError = postErr.Error()
	} else {
		responseStatus = &status
		result.ResponseStatus = status
	}
	result.Error = lastError

	if err := e.store.MarkDeliveryFailed(ctx, delivery.ID, responseStatus, 1, lastError); err != nil {
		return TestResult{}, err
	}

	return result, nil
}
