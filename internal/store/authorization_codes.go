package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/database"
	apperrors "github.com/signet-id/signet/internal/errors"
)

var (
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeConsumed = errors.New("authorization code already used")
)

// AuthorizationCode is the short-lived, single-use credential minted by the
// authorize step and exchanged exactly once for tokens.
type AuthorizationCode struct {
	ID                  uuid.UUID
	Code                string
	ClientID            uuid.UUID
	UserID              uuid.UUID
	Scope               string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	UsedAt              *time.Time
	CreatedAt           time.Time
}

// IsExpired reports whether the code is past its lifetime
func (c AuthorizationCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// CreateAuthorizationCode stores a freshly issued code
func (s *Store) CreateAuthorizationCode(ctx context.Context, authCode AuthorizationCode) (AuthorizationCode, error) {
	query := `
		INSERT INTO tbl_authorization_code (
			id, code, client_id, user_id, scope, redirect_uri,
			code_challenge, code_challenge_method, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := s.DB.QueryRow(ctx, query,
		authCode.ID,
		authCode.Code,
		authCode.ClientID,
		authCode.UserID,
		authCode.Scope,
		authCode.RedirectURI,
		authCode.CodeChallenge,
		authCode.CodeChallengeMethod,
		authCode.ExpiresAt,
	).Scan(&authCode.CreatedAt)
	if err != nil {
		return AuthorizationCode{}, apperrors.DatabaseError("failed to save authorization code", err)
	}

	return authCode, nil
}

// ConsumeAuthorizationCode atomically marks a code used and returns it.
// The conditional update on used_at is the single-use guarantee: when two
// exchanges race, the datastore lets exactly one through, with no
// application-level locking across service instances.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error) {
	var authCode AuthorizationCode

	query := `
		UPDATE tbl_authorization_code
		SET used_at = NOW()
		WHERE code = $1 AND used_at IS NULL
		RETURNING id, code, client_id, user_id, scope, redirect_uri,
		          code_challenge, code_challenge_method, expires_at, used_at, created_at
	`

	err := s.DB.QueryRow(ctx, query, code).Scan(
		&authCode.ID,
		&authCode.Code,
		&authCode.ClientID,
		&authCode.UserID,
		&authCode.Scope,
		&authCode.RedirectURI,
		&authCode.CodeChallenge,
		&authCode.CodeChallengeMethod,
		&authCode.ExpiresAt,
		&authCode.UsedAt,
		&authCode.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			// Either the code never existed or a concurrent exchange won
			exists, checkErr := s.authorizationCodeExists(ctx, code)
			if checkErr == nil && exists {
				return AuthorizationCode{}, ErrAuthorizationCodeConsumed
			}
			return AuthorizationCode{}, ErrAuthorizationCodeNotFound
		}
		return AuthorizationCode{}, apperrors.DatabaseError("failed to consume authorization code", err)
	}

	return authCode, nil
}

func (s *Store) authorizationCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tbl_authorization_code WHERE code = $1)
	`, code).Scan(&exists)
	return exists, err
}

// DeleteExpiredAuthorizationCodes sweeps codes past their lifetime
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM tbl_authorization_code WHERE expires_at < NOW()`)
	if err != nil {
		return 0, apperrors.DatabaseError("failed to delete expired authorization codes", err)
	}
	return tag.RowsAffected(), nil
}
