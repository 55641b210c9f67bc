package passkey

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/cache"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/util"
)

// webauthnUser adapts an account and its stored credentials to the
// webauthn.User interface.
type webauthnUser struct {
	user        store.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return u.user.ID[:]
}

func (u *webauthnUser) WebAuthnName() string {
	if u.user.Email != "" {
		return u.user.Email
	}
	return u.user.Phone
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.WebAuthnName()
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// challengeSession is what we park between Begin and Finish
type challengeSession struct {
	UserID  uuid.UUID
	Session webauthn.SessionData
}

// Service wraps the WebAuthn ceremonies. Challenge state lives in an
// in-process TTL store and is consumed exactly once; an expired or reused
// session fails the ceremony.
type Service struct {
	store      *store.Store
	webauthn   *webauthn.WebAuthn
	challenges *cache.MemoryStore
	cfg        config.Passkey
	logger     *slog.Logger
}

func NewService(st *store.Store, challenges *cache.MemoryStore, cfg config.Passkey, logger *slog.Logger) (*Service, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     []string{cfg.RPOrigin},
	})
	if err != nil {
		return nil, apperrors.ConfigError("invalid webauthn configuration", err)
	}

	return &Service{
		store:      st,
		webauthn:   wa,
		challenges: challenges,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// BeginRegistration starts a credential creation ceremony for the user
func (s *Service) BeginRegistration(ctx context.Context, userID uuid.UUID) (json.RawMessage, string, error) {
	waUser, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.webauthn.BeginRegistration(waUser, options...)
	if err != nil {
		return nil, "", apperrors.InternalError("failed to begin passkey registration", err)
	}

	sessionID, err := s.storeSession(userID, session)
	if err != nil {
		return nil, "", err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, "", apperrors.InternalError("failed to encode creation options", err)
	}

	return optionsJSON, sessionID, nil
}

// FinishRegistration validates the authenticator response and stores the
// new credential.
func (s *Service) FinishRegistration(ctx context.Context, sessionID string, response []byte, name string) error {
	challenge, err := s.takeSession(sessionID)
	if err != nil {
		return err
	}

	waUser, err := s.loadUser(ctx, challenge.UserID)
	if err != nil {
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return apperrors.ValidationError("invalid credential creation response", err)
	}

	credential, err := s.webauthn.CreateCredential(waUser, challenge.Session, parsed)
	if err != nil {
		return apperrors.UnauthorizedError("passkey registration failed", err)
	}

	_, err = s.store.CreatePasskey(ctx, store.Passkey{
		ID:           uuid.Must(uuid.NewV7()),
		UserID:       challenge.UserID,
		CredentialID: credential.ID,
		Credential:   *credential,
		Name:         name,
	})
	if err != nil {
		return err
	}

	s.logger.Info("passkey registered",
		slog.String("user_id", challenge.UserID.String()),
	)
	return nil
}

// BeginLogin starts an assertion ceremony for a known identity
func (s *Service) BeginLogin(ctx context.Context, identifier string) (json.RawMessage, string, error) {
	user, err := s.store.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, "", err
	}

	waUser, err := s.loadUser(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	if len(waUser.credentials) == 0 {
		return nil, "", apperrors.NotFoundError("no passkeys registered for this account", nil)
	}

	assertion, session, err := s.webauthn.BeginLogin(waUser)
	if err != nil {
		return nil, "", apperrors.InternalError("failed to begin passkey login", err)
	}

	sessionID, err := s.storeSession(user.ID, session)
	if err != nil {
		return nil, "", err
	}

	assertionJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", apperrors.InternalError("failed to encode assertion options", err)
	}

	return assertionJSON, sessionID, nil
}

// FinishLogin validates the assertion and returns the authenticated user
func (s *Service) FinishLogin(ctx context.Context, sessionID string, response []byte) (store.User, error) {
	challenge, err := s.takeSession(sessionID)
	if err != nil {
		return store.User{}, err
	}

	waUser, err := s.loadUser(ctx, challenge.UserID)
	if err != nil {
		return store.User{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return store.User{}, apperrors.ValidationError("invalid credential assertion response", err)
	}

	credential, err := s.webauthn.ValidateLogin(waUser, challenge.Session, parsed)
	if err != nil {
		return store.User{}, apperrors.UnauthorizedError("passkey login failed", err)
	}

	// Persist the updated sign counter
	passkey, err := s.store.GetPasskeyByCredentialID(ctx, credential.ID)
	if err == nil {
		passkey.Credential = *credential
		if err := s.store.UpdatePasskeyAfterUse(ctx, passkey); err != nil {
			s.logger.Warn("failed to update passkey after use",
				slog.String("error", err.Error()),
			)
		}
	}

	return waUser.user, nil
}

// List returns the user's registered passkeys
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]store.Passkey, error) {
	return s.store.ListPasskeysForUser(ctx, userID)
}

// Delete removes one of the user's passkeys. Deleting another user's
// passkey fails as not found.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, passkeyID uuid.UUID) error {
	if err := s.store.DeletePasskey(ctx, passkeyID, userID); err != nil {
		return err
	}

	s.logger.Info("passkey deleted",
		slog.String("user_id", userID.String()),
		slog.String("passkey_id", passkeyID.String()),
	)
	return nil
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (*webauthnUser, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	passkeys, err := s.store.ListPasskeysForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	credentials := make([]webauthn.Credential, 0, len(passkeys))
	for _, pk := range passkeys {
		credentials = append(credentials, pk.Credential)
	}

	return &webauthnUser{user: user, credentials: credentials}, nil
}

func (s *Service) storeSession(userID uuid.UUID, session *webauthn.SessionData) (string, error) {
	sessionID, err := util.GenerateRandomString(32)
	if err != nil {
		return "", apperrors.InternalError("failed to generate session id", err)
	}

	s.challenges.Set(sessionID, challengeSession{
		UserID:  userID,
		Session: *session,
	}, s.cfg.ChallengeTTL)

	return sessionID, nil
}

func (s *Service) takeSession(sessionID string) (challengeSession, error) {
	value, ok := s.challenges.Take(sessionID)
	if !ok {
		return challengeSession{}, apperrors.UnauthorizedError("passkey session expired or already used", nil)
	}

	challenge, ok := value.(challengeSession)
	if !ok {
		return challengeSession{}, apperrors.InternalError("corrupt passkey session", nil)
	}

	return challenge, nil
}
