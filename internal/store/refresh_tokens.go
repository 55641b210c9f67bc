package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/database"
	apperrors "github.com/signet-id/signet/internal/errors"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

// RefreshToken is the persisted companion of an issued refresh token. Only
// the one-way hash of the raw token is ever stored or logged.
type RefreshToken struct {
	ID         uuid.UUID
	TokenHash  string
	ClientID   uuid.UUID
	UserID     uuid.UUID
	Scope      string
	DeviceInfo string
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

// HashRefreshToken derives the storable hash from a raw refresh token
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateRefreshToken persists a refresh token record by hash
func (s *Store) CreateRefreshToken(ctx context.Context, token RefreshToken) (RefreshToken, error) {
	query := `
		INSERT INTO tbl_refresh_token (
			id, token_hash, client_id, user_id, scope, device_info, expires_at, revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING created_at
	`

	err := s.DB.QueryRow(ctx, query,
		token.ID,
		token.TokenHash,
		token.ClientID,
		token.UserID,
		token.Scope,
		token.DeviceInfo,
		token.ExpiresAt,
	).Scan(&token.CreatedAt)
	if err != nil {
		return RefreshToken{}, apperrors.DatabaseError("failed to save refresh token", err)
	}

	return token, nil
}

// GetRefreshTokenByRaw resolves a raw token through its hash and validates
// its lifecycle state.
func (s *Store) GetRefreshTokenByRaw(ctx context.Context, raw string) (RefreshToken, error) {
	var token RefreshToken

	query := `
		SELECT id, token_hash, client_id, user_id, scope, device_info, expires_at, revoked, created_at
		FROM tbl_refresh_token
		WHERE token_hash = $1
	`

	err := s.DB.QueryRow(ctx, query, HashRefreshToken(raw)).Scan(
		&token.ID,
		&token.TokenHash,
		&token.ClientID,
		&token.UserID,
		&token.Scope,
		&token.DeviceInfo,
		&token.ExpiresAt,
		&token.Revoked,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return RefreshToken{}, ErrRefreshTokenNotFound
		}
		return RefreshToken{}, apperrors.DatabaseError("failed to get refresh token", err)
	}

	if token.Revoked {
		return RefreshToken{}, ErrRefreshTokenRevoked
	}
	if time.Now().After(token.ExpiresAt) {
		return RefreshToken{}, ErrRefreshTokenExpired
	}

	return token, nil
}

// RevokeRefreshToken marks a token revoked by its raw value
func (s *Store) RevokeRefreshToken(ctx context.Context, raw string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_refresh_token SET revoked = TRUE WHERE token_hash = $1 AND revoked = FALSE
	`, HashRefreshToken(raw))
	if err != nil {
		return apperrors.DatabaseError("failed to revoke refresh token", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}

// RevokeRefreshTokensForUser revokes every live token of a user, used when
// an account is disabled or credentials rotate.
func (s *Store) RevokeRefreshTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_refresh_token SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	if err != nil {
		return 0, apperrors.DatabaseError("failed to revoke user refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}
