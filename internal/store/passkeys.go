package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/database"
	apperrors "github.com/signet-id/signet/internal/errors"
)

// Passkey is a stored WebAuthn credential bound to a user
type Passkey struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CredentialID []byte
	Credential   webauthn.Credential
	Name         string
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// CreatePasskey persists a newly registered credential
func (s *Store) CreatePasskey(ctx context.Context, passkey Passkey) (Passkey, error) {
	credentialJSON, err := json.Marshal(passkey.Credential)
	if err != nil {
		return Passkey{}, apperrors.InternalError("failed to serialize credential", err)
	}

	query := `
		INSERT INTO tbl_passkey (id, user_id, credential_id, credential, name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err = s.DB.QueryRow(ctx, query,
		passkey.ID,
		passkey.UserID,
		passkey.CredentialID,
		credentialJSON,
		passkey.Name,
	).Scan(&passkey.CreatedAt)
	if err != nil {
		return Passkey{}, apperrors.DatabaseError("failed to create passkey", err)
	}

	return passkey, nil
}

// ListPasskeysForUser returns all credentials registered by a user
func (s *Store) ListPasskeysForUser(ctx context.Context, userID uuid.UUID) ([]Passkey, error) {
	query := `
		SELECT id, user_id, credential_id, credential, name, created_at, last_used_at
		FROM tbl_passkey
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.DB.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list passkeys", err)
	}
	defer rows.Close()

	var passkeys []Passkey
	for rows.Next() {
		var passkey Passkey
		var credentialJSON []byte
		if err := rows.Scan(
			&passkey.ID,
			&passkey.UserID,
			&passkey.CredentialID,
			&credentialJSON,
			&passkey.Name,
			&passkey.CreatedAt,
			&passkey.LastUsedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("failed to scan passkey", err)
		}
		if err := json.Unmarshal(credentialJSON, &passkey.Credential); err != nil {
			return nil, apperrors.InternalError("failed to decode stored credential", err)
		}
		passkeys = append(passkeys, passkey)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("error iterating passkey rows", err)
	}

	return passkeys, nil
}

// GetPasskeyByCredentialID looks up a credential by its WebAuthn ID
func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (Passkey, error) {
	var passkey Passkey
	var credentialJSON []byte

	query := `
		SELECT id, user_id, credential_id, credential, name, created_at, last_used_at
		FROM tbl_passkey
		WHERE credential_id = $1
	`

	err := s.DB.QueryRow(ctx, query, credentialID).Scan(
		&passkey.ID,
		&passkey.UserID,
		&passkey.CredentialID,
		&credentialJSON,
		&passkey.Name,
		&passkey.CreatedAt,
		&passkey.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Passkey{}, apperrors.NotFoundError("passkey not found", err)
		}
		return Passkey{}, apperrors.DatabaseError("failed to get passkey", err)
	}

	if err := json.Unmarshal(credentialJSON, &passkey.Credential); err != nil {
		return Passkey{}, apperrors.InternalError("failed to decode stored credential", err)
	}

	return passkey, nil
}

// UpdatePasskeyAfterUse refreshes the sign counter and last use timestamp
func (s *Store) UpdatePasskeyAfterUse(ctx context.Context, passkey Passkey) error {
	credentialJSON, err := json.Marshal(passkey.Credential)
	if err != nil {
		return apperrors.InternalError("failed to serialize credential", err)
	}

	_, err = s.DB.Exec(ctx, `
		UPDATE tbl_passkey
		SET credential = $1, last_used_at = NOW()
		WHERE id = $2
	`, credentialJSON, passkey.ID)
	if err != nil {
		return apperrors.DatabaseError("failed to update passkey", err)
	}

	return nil
}

// DeletePasskey removes a credential
func (s *Store) DeletePasskey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.DB.Exec(ctx, `
		DELETE FROM tbl_passkey WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return apperrors.DatabaseError("failed to delete passkey", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("passkey not found", nil)
	}
	return nil
}
