// Package keys implements the signing key service: it generates and holds
// the asymmetric signing keypair, publishes the public half as a JWKS
// document, and signs and verifies access tokens. Previously issued tokens
// stay verifiable across rotation because retired public keys remain in the
// set, resolved by the kid embedded in every token header.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/signet-id/signet/internal/errors"
	"github.com/signet-id/signet/internal/util"
)

// SigningAlgorithm is the one algorithm used for signing. Verification pins
// to it; a token presenting "none" or a symmetric alg never verifies.
const SigningAlgorithm = "RS256"

// signingKey pairs a kid with its RSA keypair
type signingKey struct {
	kid       string
	private   *rsa.PrivateKey
	createdAt time.Time
}

// Service holds the current signing keypair and retired public keys.
// Read-mostly after startup; safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	current *signingKey
	retired map[string]*rsa.PublicKey
	keySize int
	issuer  string
	logger  *slog.Logger
}

// SignOptions carries the claims for a new token
type SignOptions struct {
	Subject  string
	Audience string
	Scope    string
	TTL      time.Duration
	Extra    map[string]any
}

// VerifyOptions constrains token verification
type VerifyOptions struct {
	// Audience, when set, must match one of the token's aud values
	Audience string
}

// Claims is the verified content of an access token
type Claims struct {
	Subject  string
	Audience []string
	Scope    string
	IssuedAt time.Time
	ExpireAt time.Time
	KID      string
	Extra    map[string]any
}

// NewService generates the initial keypair. Failure here is fatal: the
// caller must refuse to start rather than fall back to an insecure scheme.
func NewService(issuer string, keySize int, logger *slog.Logger) (*Service, error) {
	if keySize != 2048 && keySize != 3072 && keySize != 4096 {
		keySize = 2048
	}

	s := &Service{
		retired: make(map[string]*rsa.PublicKey),
		keySize: keySize,
		issuer:  issuer,
		logger:  logger,
	}

	key, err := s.generateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	s.current = key

	logger.Info("Signing key generated", "kid", key.kid, "key_size", keySize)

	return s, nil
}

func (s *Service) generateKey() (*signingKey, error) {
	private, err := rsa.GenerateKey(rand.Reader, s.keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	kid, err := util.GenerateRandomString(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key ID: %w", err)
	}

	return &signingKey{
		kid:       kid,
		private:   private,
		createdAt: time.Now(),
	}, nil
}

// CurrentKey returns the kid and private key used for new signatures
func (s *Service) CurrentKey() (string, *rsa.PrivateKey) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.kid, s.current.private
}

// Rotate retires the current public key and installs a fresh keypair under a
// new kid. Tokens signed before rotation verify until they expire.
func (s *Service) Rotate() error {
	key, err := s.generateKey()
	if err != nil {
		return fmt.Errorf("failed to rotate signing key: %w", err)
	}

	s.mu.Lock()
	s.retired[s.current.kid] = &s.current.private.PublicKey
	old := s.current.kid
	s.current = key
	s.mu.Unlock()

	s.logger.Info("Signing key rotated", "retired_kid", old, "kid", key.kid)
	return nil
}

// PublicKeySet returns the JWKS document: current key first, then retired
// keys still needed to verify outstanding tokens.
func (s *Service) PublicKeySet() JWKSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := JWKSet{Keys: make([]JWK, 0, len(s.retired)+1)}
	set.Keys = append(set.Keys, publicKeyToJWK(s.current.kid, &s.current.private.PublicKey))
	for kid, pub := range s.retired {
		set.Keys = append(set.Keys, publicKeyToJWK(kid, pub))
	}
	return set
}

// publicKeyByKID resolves a verification key by kid, never assuming a single
// global key.
func (s *Service) publicKeyByKID(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current.kid == kid {
		return &s.current.private.PublicKey, true
	}
	if pub, ok := s.retired[kid]; ok {
		return pub, true
	}
	return nil, false
}

// Sign issues a signed token for the given claims
func (s *Service) Sign(opts SignOptions) (string, error) {
	if opts.Subject == "" {
		return "", apperrors.ValidationError("token subject is required", nil)
	}
	if opts.TTL <= 0 {
		return "", apperrors.ValidationError("token TTL must be positive", nil)
	}

	audience := opts.Audience
	if audience == "" {
		audience = s.issuer
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": opts.Subject,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(opts.TTL).Unix(),
		"jti": uuid.NewString(),
	}
	if opts.Scope != "" {
		claims["scope"] = opts.Scope
	}
	for name, value := range opts.Extra {
		claims[name] = value
	}

	s.mu.RLock()
	kid := s.current.kid
	private := s.current.private
	s.mu.RUnlock()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token. The algorithm is pinned, the key is
// resolved by kid, and expiry and audience are enforced.
func (s *Service) Verify(tokenString string, opts VerifyOptions) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{SigningAlgorithm}),
		jwt.WithIssuedAt(),
	)

	var kid string
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		rawKID, ok := token.Header["kid"].(string)
		if !ok || rawKID == "" {
			return nil, errors.New("token header missing kid")
		}
		kid = rawKID

		pub, ok := s.publicKeyByKID(rawKID)
		if !ok {
			return nil, fmt.Errorf("unknown key ID %q", rawKID)
		}
		return pub, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, apperrors.TokenExpiredError("token has expired", err)
		default:
			return Claims{}, apperrors.InvalidSignatureError("token signature verification failed", err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, apperrors.InvalidSignatureError("unexpected token claims format", nil)
	}

	audience, err := mapClaims.GetAudience()
	if err != nil {
		return Claims{}, apperrors.InvalidAudienceError("token audience is malformed", err)
	}

	if opts.Audience != "" {
		matched := false
		for _, aud := range audience {
			if aud == opts.Audience {
				matched = true
				break
			}
		}
		if !matched {
			return Claims{}, apperrors.InvalidAudienceError("token audience mismatch", nil)
		}
	}

	claims := Claims{
		Audience: audience,
		KID:      kid,
		Extra:    make(map[string]any),
	}

	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if scope, ok := mapClaims["scope"].(string); ok {
		claims.Scope = scope
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpireAt = exp.Time
	}

	for name, value := range mapClaims {
		switch name {
		case "iss", "sub", "aud", "iat", "exp", "jti", "scope":
		default:
			claims.Extra[name] = value
		}
	}

	return claims, nil
}

// Issuer returns the issuer embedded in every signed token
func (s *Service) Issuer() string {
	return s.issuer
}
