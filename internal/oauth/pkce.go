package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	ChallengeMethodPlain = "plain"
	ChallengeMethodS256  = "S256"
)

var (
	ErrInvalidCodeChallenge       = errors.New("invalid code challenge")
	ErrUnsupportedChallengeMethod = errors.New("unsupported code challenge method")
	ErrCodeVerificationFailed     = errors.New("code verification failed")
)

// ValidateCodeChallenge checks the challenge parameters at authorization time
func ValidateCodeChallenge(codeChallenge, codeChallengeMethod string) error {
	if codeChallenge == "" {
		return fmt.Errorf("%w: code_challenge is required", ErrInvalidCodeChallenge)
	}

	if codeChallengeMethod == "" {
		return fmt.Errorf("%w: code_challenge_method is required", ErrInvalidCodeChallenge)
	}

	if codeChallengeMethod != ChallengeMethodPlain && codeChallengeMethod != ChallengeMethodS256 {
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, codeChallengeMethod)
	}

	if len(codeChallenge) < 43 || len(codeChallenge) > 128 {
		return fmt.Errorf("%w: code_challenge must be 43-128 characters", ErrInvalidCodeChallenge)
	}

	return nil
}

// VerifyCodeChallenge checks the verifier presented at token exchange against
// the challenge recorded with the authorization code. Comparisons are
// constant time so the verifier cannot be probed byte by byte.
func VerifyCodeChallenge(codeVerifier, codeChallenge, codeChallengeMethod string) error {
	if codeVerifier == "" {
		return fmt.Errorf("%w: code_verifier is required", ErrCodeVerificationFailed)
	}

	if len(codeVerifier) < 43 || len(codeVerifier) > 128 {
		return fmt.Errorf("%w: invalid code_verifier length", ErrCodeVerificationFailed)
	}

	switch codeChallengeMethod {
	case ChallengeMethodPlain:
		if subtle.ConstantTimeCompare([]byte(codeVerifier), []byte(codeChallenge)) != 1 {
			return ErrCodeVerificationFailed
		}
	case ChallengeMethodS256:
		hash := sha256.Sum256([]byte(codeVerifier))
		computed := base64.RawURLEncoding.EncodeToString(hash[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(codeChallenge)) != 1 {
			return ErrCodeVerificationFailed
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, codeChallengeMethod)
	}

	return nil
}
