package validator

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
)

const testIssuer = "https://a.example.com"

var (
	fixedNow = time.Unix(1_700_000_000, 0)

	keysOnce sync.Once
	rsaPriv  *rsa.PrivateKey
	ecPriv   *ecdsa.PrivateKey
	ec384    *ecdsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *ecdsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		if rsaPriv, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if ecPriv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			panic(err)
		}
		if ec384, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader); err != nil {
			panic(err)
		}
	})
	return rsaPriv, ecPriv, ec384
}

// testLoader serves rsa-1 (RSA), ec-1 (P-256) and ec-384 (P-384) for issuer.
func testLoader(t *testing.T, issuer string) *jwks.MemoryLoader {
	t.Helper()
	rk, ek, ek384 := testKeys(t)
	return jwks.NewMemoryLoaderFromKeys(issuer,
		jwks.NewRSAKeyInfo("rsa-1", "", &rk.PublicKey),
		jwks.NewECKeyInfo("ec-1", "", &ek.PublicKey),
		jwks.NewECKeyInfo("ec-384", "", &ek384.PublicKey),
	)
}

func testIssuerConfig(t *testing.T, issuer string, opts ...IssuerOption) *IssuerConfig {
	t.Helper()
	cfg, err := NewIssuerConfig(issuer, testLoader(t, issuer), opts...)
	if err != nil {
		t.Fatalf("issuer config: %v", err)
	}
	return cfg
}

func newTestValidator(t *testing.T, configs ...*IssuerConfig) *TokenValidator {
	t.Helper()
	if len(configs) == 0 {
		configs = []*IssuerConfig{testIssuerConfig(t, testIssuer)}
	}
	v, err := New(configs, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v
}

// accessClaims returns a valid claim set relative to fixedNow.
func accessClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "user-1",
		"iat":   fixedNow.Add(-time.Minute).Unix(),
		"exp":   fixedNow.Add(time.Hour).Unix(),
		"scope": "read write",
		"roles": []string{"admin"},
	}
}

func signToken(t *testing.T, method jwt.SigningMethod, kid string, key any, claims jwt.MapClaims) string {
	t.Helper()
	return signTokenWithHeader(t, method, kid, key, claims, nil)
}

func signTokenWithHeader(t *testing.T, method jwt.SigningMethod, kid string, key any, claims jwt.MapClaims, extra map[string]any) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	for k, v := range extra {
		tok.Header[k] = v
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// rawToken assembles a compact token from arbitrary parts without signing.
func rawToken(t *testing.T, header, payload map[string]any, sig []byte) string {
	t.Helper()
	h, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	enc := base64.RawURLEncoding
	return strings.Join([]string{enc.EncodeToString(h), enc.EncodeToString(p), enc.EncodeToString(sig)}, ".")
}
