package jwks

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
)

// KeyType is the JWK "kty" family a key belongs to.
type KeyType string

const (
	KeyTypeRSA KeyType = "RSA"
	KeyTypeEC  KeyType = "EC"
)

// KeyInfo is an immutable verification key resolved from a JWKS document.
type KeyInfo struct {
	KeyID string
	Type  KeyType
	// Algorithm is the "alg" the JWK declared; empty when the document did not
	// restrict the key.
	Algorithm string
	Key       crypto.PublicKey
}

// CurveBits returns the EC curve size, or 0 for non-EC keys.
func (k *KeyInfo) CurveBits() int {
	pub, ok := k.Key.(*ecdsa.PublicKey)
	if !ok || pub.Curve == nil {
		return 0
	}
	return pub.Curve.Params().BitSize
}

// ModulusBits returns the RSA modulus size, or 0 for non-RSA keys.
func (k *KeyInfo) ModulusBits() int {
	pub, ok := k.Key.(*rsa.PublicKey)
	if !ok || pub.N == nil {
		return 0
	}
	return pub.N.BitLen()
}

func (k *KeyInfo) String() string {
	return fmt.Sprintf("KeyInfo{kid=%s kty=%s alg=%s}", k.KeyID, k.Type, k.Algorithm)
}

// NewRSAKeyInfo wraps an RSA public key.
func NewRSAKeyInfo(kid, alg string, key *rsa.PublicKey) *KeyInfo {
	return &KeyInfo{KeyID: kid, Type: KeyTypeRSA, Algorithm: alg, Key: key}
}

// NewECKeyInfo wraps an ECDSA public key.
func NewECKeyInfo(kid, alg string, key *ecdsa.PublicKey) *KeyInfo {
	return &KeyInfo{KeyID: kid, Type: KeyTypeEC, Algorithm: alg, Key: key}
}

func curveByName(crv string) (elliptic.Curve, bool) {
	switch crv {
	case "P-256":
		return elliptic.P256(), true
	case "P-384":
		return elliptic.P384(), true
	case "P-521":
		return elliptic.P521(), true
	default:
		return nil, false
	}
}
