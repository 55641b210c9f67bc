package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/abuse"
	"github.com/signet-id/signet/internal/cache"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// Events emitted on the webhook bus
const (
	EventUserVerified  = "user.verified"
	EventUserLockedOut = "user.locked_out"
)

// UserStore is the slice of persistence the account service needs
type UserStore interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (store.User, error)
	MarkUserEmailVerified(ctx context.Context, id uuid.UUID) error
}

// EventPublisher fans an event out to an application's webhook subscribers
type EventPublisher interface {
	Publish(ctx context.Context, applicationID uuid.UUID, event string, data map[string]any)
}

// Service handles out-of-band identity verification and password login.
// Verification codes are short-lived, stored only as bcrypt hashes, and
// guarded by the progressive lockout.
type Service struct {
	users     UserStore
	codes     cache.CounterStore
	lockout   *abuse.Lockout
	sender    Sender
	publisher EventPublisher
	cfg       config.Lockout
	logger    *slog.Logger
}

func NewService(users UserStore, codes cache.CounterStore, lockout *abuse.Lockout, sender Sender, publisher EventPublisher, cfg config.Lockout, logger *slog.Logger) *Service {
	return &Service{
		users:     users,
		codes:     codes,
		lockout:   lockout,
		sender:    sender,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func codeKey(identifier string) string {
	return fmt.Sprintf("verify:code:%s", identifier)
}

// SendCode issues a fresh verification code for the identity. A new code
// replaces any outstanding one; only the latest code can verify.
func (s *Service) SendCode(ctx context.Context, identifier string) error {
	if identifier == "" {
		return apperrors.ValidationError("identifier is required", nil)
	}

	if err := s.lockout.Check(ctx, identifier); err != nil {
		return err
	}

	// Unknown identities get the same response as known ones so the
	// endpoint cannot be used to enumerate accounts.
	user, err := s.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if apperrors.IsType(err, apperrors.CodeNotFound) {
			s.logger.Info("verification requested for unknown identity",
				slog.String("identifier", identifier),
			)
			return nil
		}
		return err
	}

	if !user.IsActive() {
		return nil
	}

	code, err := util.GenerateDigits(6)
	if err != nil {
		return apperrors.InternalError("failed to generate verification code", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return apperrors.InternalError("failed to hash verification code", err)
	}

	if err := s.codes.SetWithTTL(ctx, codeKey(identifier), string(hash), s.cfg.CodeTTL); err != nil {
		return apperrors.CacheError("failed to store verification code", err)
	}

	if err := s.sender.Send(ctx, identifier, code); err != nil {
		// The code is already stored; the user can request another
		return apperrors.InternalError("failed to send verification code", err)
	}

	return nil
}

// VerifyCodeRequest identifies the attempt and, when an application is
// known, the webhook audience for the resulting event.
type VerifyCodeRequest struct {
	Identifier    string
	Code          string
	ApplicationID uuid.UUID
}

// VerifyCode checks a submitted code. Wrong codes count toward the lockout;
// the lock is checked before any comparison so a locked identity learns
// nothing from this endpoint.
func (s *Service) VerifyCode(ctx context.Context, req VerifyCodeRequest) error {
	if req.Identifier == "" || req.Code == "" {
		return apperrors.ValidationError("identifier and code are required", nil)
	}

	if err := s.lockout.Check(ctx, req.Identifier); err != nil {
		return err
	}

	var storedHash string
	err := s.codes.Get(ctx, codeKey(req.Identifier), &storedHash)
	if err != nil {
		if err == cache.ErrCacheMiss {
			return s.failAttempt(ctx, req, "verification code expired or never issued")
		}
		return apperrors.CacheError("failed to read verification code", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.Code)) != nil {
		return s.failAttempt(ctx, req, "invalid verification code")
	}

	// A matched code is single use; consume it before anything else
	if err := s.codes.Delete(ctx, codeKey(req.Identifier)); err != nil {
		return apperrors.CacheError("failed to consume verification code", err)
	}

	if err := s.lockout.RecordSuccess(ctx, req.Identifier); err != nil {
		return err
	}

	user, err := s.users.GetUserByIdentifier(ctx, req.Identifier)
	if err != nil {
		return err
	}

	if err := s.users.MarkUserEmailVerified(ctx, user.ID); err != nil {
		return err
	}

	s.logger.Info("identity verified", slog.String("user_id", user.ID.String()))

	if s.publisher != nil && req.ApplicationID != uuid.Nil {
		s.publisher.Publish(ctx, req.ApplicationID, EventUserVerified, map[string]any{
			"user_id":    user.ID.String(),
			"identifier": req.Identifier,
		})
	}

	return nil
}

// failAttempt records a failed verification and reports lockout when this
// failure tripped it.
func (s *Service) failAttempt(ctx context.Context, req VerifyCodeRequest, reason string) error {
	if err := s.lockout.RecordFailure(ctx, req.Identifier); err != nil {
		if apperrors.IsType(err, apperrors.CodeLockedOut) && s.publisher != nil && req.ApplicationID != uuid.Nil {
			s.publisher.Publish(ctx, req.ApplicationID, EventUserLockedOut, map[string]any{
				"identifier": req.Identifier,
			})
		}
		return err
	}
	return apperrors.UnauthorizedError(reason, nil)
}

// Login checks a password. Failures share the verification lockout so
// password guessing and code guessing draw from the same budget.
func (s *Service) Login(ctx context.Context, identifier, password string) (store.User, error) {
	if identifier == "" || password == "" {
		return store.User{}, apperrors.ValidationError("identifier and password are required", nil)
	}

	if err := s.lockout.Check(ctx, identifier); err != nil {
		return store.User{}, err
	}

	user, err := s.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if apperrors.IsType(err, apperrors.CodeNotFound) {
			// Burn a comparison anyway to keep timing uniform
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva"), []byte(password))
			return store.User{}, apperrors.UnauthorizedError("invalid credentials", nil)
		}
		return store.User{}, err
	}

	if !user.IsActive() {
		return store.User{}, apperrors.UnauthorizedError("invalid credentials", nil)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if err := s.lockout.RecordFailure(ctx, identifier); err != nil {
			return store.User{}, err
		}
		return store.User{}, apperrors.UnauthorizedError("invalid credentials", nil)
	}

	if err := s.lockout.RecordSuccess(ctx, identifier); err != nil {
		return store.User{}, err
	}

	return user, nil
}
