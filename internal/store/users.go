package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/database"
	apperrors "github.com/signet-id/signet/internal/errors"
)

// User statuses
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is an end-user account
type User struct {
	ID            uuid.UUID
	Email         string
	EmailVerified bool
	Phone         string
	Name          string
	PasswordHash  string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive reports whether the user may authenticate
func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// GetUserByID fetches a user by primary key
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	var user User

	query := `
		SELECT id, email, email_verified, phone, name, password_hash, status, created_at, updated_at
		FROM tbl_user
		WHERE id = $1
	`

	err := s.DB.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerified,
		&user.Phone,
		&user.Name,
		&user.PasswordHash,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return User{}, apperrors.NotFoundError("user not found", err)
		}
		return User{}, apperrors.DatabaseError("failed to get user", err)
	}

	return user, nil
}

// GetUserByIdentifier resolves a user by email or phone, whichever matches
func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	var user User

	query := `
		SELECT id, email, email_verified, phone, name, password_hash, status, created_at, updated_at
		FROM tbl_user
		WHERE email = $1 OR phone = $1
	`

	err := s.DB.QueryRow(ctx, query, identifier).Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerified,
		&user.Phone,
		&user.Name,
		&user.PasswordHash,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return User{}, apperrors.NotFoundError("user not found", err)
		}
		return User{}, apperrors.DatabaseError("failed to get user by identifier", err)
	}

	return user, nil
}

// CreateUser persists a new account
func (s *Store) CreateUser(ctx context.Context, user User) (User, error) {
	query := `
		INSERT INTO tbl_user (id, email, email_verified, phone, name, password_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := s.DB.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.EmailVerified,
		user.Phone,
		user.Name,
		user.PasswordHash,
		user.Status,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, apperrors.DatabaseError("failed to create user", err)
	}

	return user, nil
}

// MarkUserEmailVerified flags the account after a successful code check
func (s *Store) MarkUserEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE tbl_user SET email_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return apperrors.DatabaseError("failed to mark user verified", err)
	}
	return nil
}
