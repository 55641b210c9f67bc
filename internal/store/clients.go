package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/database"
	apperrors "github.com/signet-id/signet/internal/errors"
)

// Client statuses. Clients referencing live tokens are suspended, never
// physically deleted.
const (
	ClientStatusActive    = "active"
	ClientStatusSuspended = "suspended"
)

// Grant type names a client may be allowed
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantTrustedClient     = "trusted_client"
)

// Client is a registered OAuth application
type Client struct {
	ID               uuid.UUID
	ClientID         string
	ClientSecretHash string // empty for public clients
	Name             string
	RedirectURIs     []string
	AllowedGrants    []string
	AllowedScopes    []string
	IsPublic         bool
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive reports whether the client may participate in any flow
func (c Client) IsActive() bool {
	return c.Status == ClientStatusActive
}

// AllowsGrant checks the grant allow-list
func (c Client) AllowsGrant(grant string) bool {
	for _, allowed := range c.AllowedGrants {
		if allowed == grant {
			return true
		}
	}
	return false
}

// GetClientByClientID looks up a client by its public client_id
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (Client, error) {
	var client Client

	query := `
		SELECT id, client_id, client_secret_hash, name, redirect_uris,
		       allowed_grants, allowed_scopes, is_public, status, created_at, updated_at
		FROM tbl_client
		WHERE client_id = $1
	`

	err := s.DB.QueryRow(ctx, query, clientID).Scan(
		&client.ID,
		&client.ClientID,
		&client.ClientSecretHash,
		&client.Name,
		&client.RedirectURIs,
		&client.AllowedGrants,
		&client.AllowedScopes,
		&client.IsPublic,
		&client.Status,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Client{}, apperrors.NotFoundError("client not found", err)
		}
		return Client{}, apperrors.DatabaseError("failed to get client", err)
	}

	return client, nil
}

// CreateClient persists a new application registration
func (s *Store) CreateClient(ctx context.Context, client Client) (Client, error) {
	query := `
		INSERT INTO tbl_client (
			id, client_id, client_secret_hash, name, redirect_uris,
			allowed_grants, allowed_scopes, is_public, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := s.DB.QueryRow(ctx, query,
		client.ID,
		client.ClientID,
		client.ClientSecretHash,
		client.Name,
		client.RedirectURIs,
		client.AllowedGrants,
		client.AllowedScopes,
		client.IsPublic,
		client.Status,
	).Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return Client{}, apperrors.DatabaseError("failed to create client", err)
	}

	return client, nil
}

// UpdateClientSecretHash replaces the stored secret hash on rotation
func (s *Store) UpdateClientSecretHash(ctx context.Context, clientID string, secretHash string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_client SET client_secret_hash = $1, updated_at = NOW() WHERE client_id = $2
	`, secretHash, clientID)
	if err != nil {
		return apperrors.DatabaseError("failed to rotate client secret", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("client not found", nil)
	}
	return nil
}

// SuspendClient soft-suspends a client instead of deleting it
func (s *Store) SuspendClient(ctx context.Context, clientID string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_client SET status = $1, updated_at = NOW() WHERE client_id = $2
	`, ClientStatusSuspended, clientID)
	if err != nil {
		return apperrors.DatabaseError("failed to suspend client", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("client not found", nil)
	}
	return nil
}

// NewClientID generates a fresh public client identifier
func NewClientID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate client ID: %w", err)
	}
	return id.String(), nil
}
