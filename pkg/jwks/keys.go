package jwks

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// SigningKey is one public key from an issuer's key set.
type SigningKey struct {
	// KeyID is the JWK "kid" matched against a token header's kid.
	KeyID string

	// Algorithm is the JWK "alg" (e.g. "RS256"). It may be empty when the
	// issuer does not publish it.
	Algorithm string

	// KeyType is the JWK "kty": "RSA" or "EC".
	KeyType string

	// PublicKey is *rsa.PublicKey or *ecdsa.PublicKey.
	PublicKey crypto.PublicKey
}

// Algorithms returns the signing methods a token verified with this key
// may use. The published alg wins; otherwise every algorithm of the key's
// family is allowed.
func (k SigningKey) Algorithms() []string {
	if k.Algorithm != "" {
		return []string{k.Algorithm}
	}
	switch k.KeyType {
	case keyTypeRSA:
		return []string{"RS256", "RS384", "RS512"}
	case keyTypeEC:
		return []string{"ES256", "ES384", "ES512"}
	default:
		return nil
	}
}

// KeySet is the ordered list of keys one issuer publishes.
type KeySet struct {
	Issuer string
	Keys   []SigningKey
}

// Lookup returns the key whose KeyID equals kid.
func (s *KeySet) Lookup(kid string) (SigningKey, bool) {
	if s == nil {
		return SigningKey{}, false
	}
	for _, k := range s.Keys {
		if k.KeyID == kid {
			return k, true
		}
	}
	return SigningKey{}, false
}

const (
	keyTypeRSA = "RSA"
	keyTypeEC  = "EC"
)

// document is the JSON body served by a key-set endpoint.
type document struct {
	Keys *[]rawKey `json:"keys"`
}

// rawKey is a single JWK. Only the members needed to rebuild RSA and EC
// public keys are decoded.
type rawKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA
	N string `json:"n"`
	E string `json:"e"`
	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// toSigningKey converts a JWK descriptor. ok is false for keys that are
// skipped (no kid, unsupported kty); err is set when a supported key is
// malformed.
func (r rawKey) toSigningKey() (key SigningKey, ok bool, err error) {
	if r.Kid == "" {
		return SigningKey{}, false, nil
	}

	var pub crypto.PublicKey
	switch r.Kty {
	case keyTypeRSA:
		pub, err = parseRSAPublicKey(r.N, r.E)
	case keyTypeEC:
		pub, err = parseECPublicKey(r.Crv, r.X, r.Y)
	default:
		return SigningKey{}, false, nil
	}
	if err != nil {
		return SigningKey{}, false, fmt.Errorf("key %q: %w", r.Kid, err)
	}

	return SigningKey{
		KeyID:     r.Kid,
		Algorithm: r.Alg,
		KeyType:   r.Kty,
		PublicKey: pub,
	}, true, nil
}

// parseRSAPublicKey builds an *rsa.PublicKey from base64url modulus and
// exponent.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	if nBase64 == "" || eBase64 == "" {
		return nil, fmt.Errorf("missing RSA modulus or exponent")
	}
	nBytes, err := decodeSegment(nBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode RSA modulus: %w", err)
	}
	eBytes, err := decodeSegment(eBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode RSA exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("RSA exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey builds an *ecdsa.PublicKey from a curve name and
// base64url coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported EC curve %q", crv)
	}

	xBytes, err := decodeSegment(xBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := decodeSegment(yBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
