package keys

import (
	"crypto/rsa"
	"encoding/base64"
)

// JWK represents a JSON Web Key for public consumption (JWKS endpoint)
type JWK struct {
	KTY    string   `json:"kty"`
	Use    string   `json:"use"`
	Alg    string   `json:"alg"`
	KID    string   `json:"kid"`
	N      string   `json:"n"`
	E      string   `json:"e"`
	KeyOps []string `json:"key_ops,omitempty"`
}

// JWKSet represents a JSON Web Key Set (collection of JWKs)
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// publicKeyToJWK converts an RSA public key into its JWK representation,
// base64url-encoding the modulus and exponent.
func publicKeyToJWK(kid string, pub *rsa.PublicKey) JWK {
	nBytes := pub.N.Bytes()

	eBytes := []byte{
		byte(pub.E >> 24),
		byte(pub.E >> 16),
		byte(pub.E >> 8),
		byte(pub.E),
	}
	// Strip leading zero bytes from the exponent
	for len(eBytes) > 1 && eBytes[0] == 0 {
		eBytes = eBytes[1:]
	}

	return JWK{
		KTY:    "RSA",
		Use:    "sig",
		Alg:    SigningAlgorithm,
		KID:    kid,
		N:      base64.RawURLEncoding.EncodeToString(nBytes),
		E:      base64.RawURLEncoding.EncodeToString(eBytes),
		KeyOps: []string{"verify"},
	}
}
