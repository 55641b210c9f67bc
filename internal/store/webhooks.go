package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/database"
	apperrors "github.com/signet-id/signet/internal/errors"
)

// Delivery statuses. A delivery moves pending -> in_flight -> success|failed
// and never reverts; retries increment attempt_count on the same record.
const (
	DeliveryStatusPending  = "pending"
	DeliveryStatusInFlight = "in_flight"
	DeliveryStatusSuccess  = "success"
	DeliveryStatusFailed   = "failed"
)

// EventWildcard subscribes a webhook to every event
const EventWildcard = "*"

var ErrDeliveryNotFound = errors.New("webhook delivery not found")

// Webhook is a subscriber endpoint registered by an application
type Webhook struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	URL           string
	Events        []string
	Secret        string
	IsActive      bool
	CreatedAt     time.Time
}

// WantsEvent checks the subscription set, honoring the wildcard
func (w Webhook) WantsEvent(event string) bool {
	for _, name := range w.Events {
		if name == event || name == EventWildcard {
			return true
		}
	}
	return false
}

// Delivery is one attempt-tracked notification to a webhook
type Delivery struct {
	ID             uuid.UUID
	WebhookID      uuid.UUID
	Event          string
	Payload        []byte
	Status         string
	ResponseStatus *int
	AttemptCount   int
	NextAttemptAt  time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateWebhook registers a subscriber endpoint
func (s *Store) CreateWebhook(ctx context.Context, webhook Webhook) (Webhook, error) {
	query := `
		INSERT INTO tbl_webhook (id, application_id, url, events, secret, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := s.DB.QueryRow(ctx, query,
		webhook.ID,
		webhook.ApplicationID,
		webhook.URL,
		webhook.Events,
		webhook.Secret,
		webhook.IsActive,
	).Scan(&webhook.CreatedAt)
	if err != nil {
		return Webhook{}, apperrors.DatabaseError("failed to create webhook", err)
	}

	return webhook, nil
}

// GetWebhookByID fetches a single webhook
func (s *Store) GetWebhookByID(ctx context.Context, id uuid.UUID) (Webhook, error) {
	var webhook Webhook

	query := `
		SELECT id, application_id, url, events, secret, is_active, created_at
		FROM tbl_webhook
		WHERE id = $1
	`

	err := s.DB.QueryRow(ctx, query, id).Scan(
		&webhook.ID,
		&webhook.ApplicationID,
		&webhook.URL,
		&webhook.Events,
		&webhook.Secret,
		&webhook.IsActive,
		&webhook.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Webhook{}, apperrors.NotFoundError("webhook not found", err)
		}
		return Webhook{}, apperrors.DatabaseError("failed to get webhook", err)
	}

	return webhook, nil
}

// ListActiveWebhooksForApplication returns active subscriptions for an app
func (s *Store) ListActiveWebhooksForApplication(ctx context.Context, applicationID uuid.UUID) ([]Webhook, error) {
	query := `
		SELECT id, application_id, url, events, secret, is_active, created_at
		FROM tbl_webhook
		WHERE application_id = $1 AND is_active = TRUE
	`

	rows, err := s.DB.Query(ctx, query, applicationID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list webhooks", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		var webhook Webhook
		if err := rows.Scan(
			&webhook.ID,
			&webhook.ApplicationID,
			&webhook.URL,
			&webhook.Events,
			&webhook.Secret,
			&webhook.IsActive,
			&webhook.CreatedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("failed to scan webhook", err)
		}
		webhooks = append(webhooks, webhook)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("error iterating webhook rows", err)
	}

	return webhooks, nil
}

// CreateDelivery records a new pending delivery
func (s *Store) CreateDelivery(ctx context.Context, delivery Delivery) (Delivery, error) {
	query := `
		INSERT INTO tbl_webhook_delivery (
			id, webhook_id, event, payload, status, attempt_count, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := s.DB.QueryRow(ctx, query,
		delivery.ID,
		delivery.WebhookID,
		delivery.Event,
		delivery.Payload,
		delivery.Status,
		delivery.AttemptCount,
		delivery.NextAttemptAt,
	).Scan(&delivery.CreatedAt, &delivery.UpdatedAt)
	if err != nil {
		return Delivery{}, apperrors.DatabaseError("failed to create delivery", err)
	}

	return delivery, nil
}

// LeaseDueDeliveries atomically claims pending deliveries that are due,
// transitioning them to in_flight. The conditional update keeps concurrent
// worker instances from double-delivering. Claims older than staleAfter are
// reclaimed: a worker that died between lease and outcome leaves its rows
// in_flight, and without reclaim those deliveries would be lost.
func (s *Store) LeaseDueDeliveries(ctx context.Context, limit int, staleAfter time.Duration) ([]Delivery, error) {
	query := `
		UPDATE tbl_webhook_delivery
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tbl_webhook_delivery
			WHERE (status = $2 AND next_attempt_at <= NOW())
			   OR (status = $1 AND updated_at <= NOW() - make_interval(secs => $3))
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, webhook_id, event, payload, status, response_status,
		          attempt_count, next_attempt_at, last_error, created_at, updated_at
	`

	rows, err := s.DB.Query(ctx, query, DeliveryStatusInFlight, DeliveryStatusPending, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to lease deliveries", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var delivery Delivery
		if err := rows.Scan(
			&delivery.ID,
			&delivery.WebhookID,
			&delivery.Event,
			&delivery.Payload,
			&delivery.Status,
			&delivery.ResponseStatus,
			&delivery.AttemptCount,
			&delivery.NextAttemptAt,
			&delivery.LastError,
			&delivery.CreatedAt,
			&delivery.UpdatedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("failed to scan delivery", err)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("error iterating delivery rows", err)
	}

	return deliveries, nil
}

// MarkDeliverySucceeded finalizes a delivery after a 2xx response
func (s *Store) MarkDeliverySucceeded(ctx context.Context, id uuid.UUID, responseStatus int, attemptCount int) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_webhook_delivery
		SET status = $1, response_status = $2, attempt_count = $3, last_error = '', updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, DeliveryStatusSuccess, responseStatus, attemptCount, id, DeliveryStatusInFlight)
	if err != nil {
		return apperrors.DatabaseError("failed to mark delivery succeeded", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkDeliveryRetry reschedules a failed attempt on the same record
func (s *Store) MarkDeliveryRetry(ctx context.Context, id uuid.UUID, responseStatus *int, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_webhook_delivery
		SET status = $1, response_status = $2, attempt_count = $3, next_attempt_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $6 AND status = $7
	`, DeliveryStatusPending, responseStatus, attemptCount, nextAttemptAt, lastError, id, DeliveryStatusInFlight)
	if err != nil {
		return apperrors.DatabaseError("failed to reschedule delivery", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkDeliveryFailed terminally fails a delivery after the attempt cap
func (s *Store) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, responseStatus *int, attemptCount int, lastError string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_webhook_delivery
		SET status = $1, response_status = $2, attempt_count = $3, last_error = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`, DeliveryStatusFailed, responseStatus, attemptCount, lastError, id, DeliveryStatusInFlight)
	if err != nil {
		return apperrors.DatabaseError("failed to mark delivery failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ListDeliveriesForWebhook exposes the queryable delivery history
func (s *Store) ListDeliveriesForWebhook(ctx context.Context, webhookID uuid.UUID, limit int) ([]Delivery, error) {
	query := `
		SELECT id, webhook_id, event, payload, status, response_status,
		       attempt_count, next_attempt_at, last_error, created_at, updated_at
		FROM tbl_webhook_delivery
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.DB.Query(ctx, query, webhookID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list deliveries", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var delivery Delivery
		if err := rows.Scan(
			&delivery.ID,
			&delivery.WebhookID,
			&delivery.Event,
			&delivery.Payload,
			&delivery.Status,
			&delivery.ResponseStatus,
			&delivery.AttemptCount,
			&delivery.NextAttemptAt,
			&delivery.LastError,
			&delivery.CreatedAt,
			&delivery.UpdatedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("failed to scan delivery", err)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("error iterating delivery rows", err)
	}

	return deliveries, nil
}
