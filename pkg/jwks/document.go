package jwks

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
)

const (
	// MaxKeys bounds how many JWKs a single document may contribute.
	MaxKeys = 50
	// MinRSAKeyBits rejects RSA keys below this modulus size.
	MinRSAKeyBits = 2048
	// MaxDocumentSize bounds JWKS documents read from files or HTTP.
	MaxDocumentSize = 256 * 1024
)

var errNoUsableKeys = errors.New("jwks: document contains no usable keys")

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type document struct {
	Keys []json.RawMessage `json:"keys"`
}

// keySet is an immutable snapshot of parsed keys. Loaders replace the whole
// snapshot; they never modify one in place.
type keySet struct {
	keys      map[string]*KeyInfo
	fetchedAt time.Time
	etag      string
	raw       []byte
}

func (s *keySet) get(kid string) (*KeyInfo, bool) {
	if s == nil {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

func (s *keySet) list() []*KeyInfo {
	if s == nil {
		return nil
	}
	out := make([]*KeyInfo, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

func (s *keySet) sameKeyIDs(other *keySet) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.keys) != len(other.keys) {
		return false
	}
	for kid := range s.keys {
		if _, ok := other.keys[kid]; !ok {
			return false
		}
	}
	return true
}

// ParseDocument parses a JWKS document and returns the usable keys.
func ParseDocument(data []byte) ([]*KeyInfo, error) {
	set, _, err := parseKeySet(data)
	if err != nil {
		return nil, err
	}
	return set.list(), nil
}

// parseKeySet returns the snapshot plus the reasons individual keys were
// skipped, for logging.
func parseKeySet(data []byte) (*keySet, []string, error) {
	if len(data) > MaxDocumentSize {
		return nil, nil, fmt.Errorf("jwks: document exceeds %d bytes", MaxDocumentSize)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("jwks: invalid json: %w", err)
	}
	if doc.Keys == nil {
		return nil, nil, errors.New("jwks: missing keys array")
	}
	if len(doc.Keys) > MaxKeys {
		return nil, nil, fmt.Errorf("jwks: %d keys exceeds maximum %d", len(doc.Keys), MaxKeys)
	}

	var skipped []string
	keys := make(map[string]*KeyInfo, len(doc.Keys))
	for i, rawKey := range doc.Keys {
		var k jwk
		if err := json.Unmarshal(rawKey, &k); err != nil {
			skipped = append(skipped, fmt.Sprintf("key %d: invalid json", i))
			continue
		}
		info, err := k.toKeyInfo()
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("key %q: %v", k.Kid, err))
			continue
		}
		if _, dup := keys[info.KeyID]; dup {
			skipped = append(skipped, fmt.Sprintf("key %q: duplicate kid", k.Kid))
			continue
		}
		keys[info.KeyID] = info
	}
	if len(keys) == 0 {
		return nil, skipped, errNoUsableKeys
	}
	return &keySet{keys: keys, raw: append([]byte(nil), data...)}, skipped, nil
}

func (k jwk) toKeyInfo() (*KeyInfo, error) {
	if strings.TrimSpace(k.Kid) == "" {
		return nil, errors.New("missing kid")
	}
	if k.Use != "" && k.Use != "sig" {
		return nil, fmt.Errorf("unsupported use %q", k.Use)
	}
	switch k.Kty {
	case "RSA":
		if k.Alg != "" && !strings.HasPrefix(k.Alg, "RS") && !strings.HasPrefix(k.Alg, "PS") {
			return nil, fmt.Errorf("alg %q not valid for RSA", k.Alg)
		}
		pub, err := rsaPublicKey(k.N, k.E)
		if err != nil {
			return nil, err
		}
		return NewRSAKeyInfo(k.Kid, k.Alg, pub), nil
	case "EC":
		if k.Alg != "" && !strings.HasPrefix(k.Alg, "ES") {
			return nil, fmt.Errorf("alg %q not valid for EC", k.Alg)
		}
		pub, err := ecPublicKey(k.Crv, k.X, k.Y)
		if err != nil {
			return nil, err
		}
		return NewECKeyInfo(k.Kid, k.Alg, pub), nil
	default:
		return nil, fmt.Errorf("unsupported kty %q", k.Kty)
	}
}

func rsaPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, errors.New("invalid modulus encoding")
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, errors.New("invalid exponent encoding")
	}
	if len(eb) == 0 || len(eb) > 4 {
		return nil, errors.New("invalid exponent size")
	}

	n := new(big.Int).SetBytes(nb)
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e < 3 || e%2 == 0 {
		return nil, errors.New("invalid exponent")
	}
	if n.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("modulus %d bits below minimum %d", n.BitLen(), MinRSAKeyBits)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func ecPublicKey(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	curve, ok := curveByName(crv)
	if !ok {
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	xb, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, errors.New("invalid x coordinate encoding")
	}
	yb, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, errors.New("invalid y coordinate encoding")
	}
	size := (curve.Params().BitSize + 7) / 8
	if len(xb) > size || len(yb) > size {
		return nil, errors.New("coordinate too large for curve")
	}

	// Build the uncompressed point and let crypto/ecdh check it is on the curve.
	point := make([]byte, 1+2*size)
	point[0] = 4
	copy(point[1+size-len(xb):1+size], xb)
	copy(point[1+2*size-len(yb):], yb)
	var ec ecdh.Curve
	switch crv {
	case "P-256":
		ec = ecdh.P256()
	case "P-384":
		ec = ecdh.P384()
	default:
		ec = ecdh.P521()
	}
	if _, err := ec.NewPublicKey(point); err != nil {
		return nil, errors.New("point is not on curve")
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}, nil
}
