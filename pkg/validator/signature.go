package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

// curveBitsFor maps ES algorithms to the curve size they require.
var curveBitsFor = map[string]int{
	"ES256": 256,
	"ES384": 384,
	"ES512": 521,
}

// SignatureValidator resolves the signing key by kid and verifies the
// signature with the golang-jwt signing methods.
type SignatureValidator struct {
	monitor *Monitor
}

func (v SignatureValidator) Validate(ctx context.Context, decoded *token.DecodedJWT, cfg *IssuerConfig) error {
	kid := decoded.Header.Kid
	if kid == "" {
		return token.NewValidationError(security.KeyNotFound, "token header has no kid")
	}

	start := time.Now()
	key, ok := cfg.Loader().KeyInfo(ctx, kid)
	v.monitor.Record(JWKSOperations, time.Since(start))
	if !ok {
		return token.NewValidationError(security.KeyNotFound, "no key matches the token kid")
	}

	alg := decoded.Header.Alg
	if err := bindAlgorithm(alg, key); err != nil {
		return err
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return token.NewValidationError(security.UnsupportedAlgorithm, "algorithm %q has no verifier", alg)
	}
	if err := method.Verify(decoded.SigningInput(), decoded.Signature, key.Key); err != nil {
		return token.NewValidationError(security.SignatureValidationFailed, "signature verification failed")
	}
	return nil
}

// bindAlgorithm enforces that the token alg fits the key: RSA keys verify
// RS and PS only, EC keys verify ES only on the matching curve, and a key
// that declares an alg verifies only that alg.
func bindAlgorithm(alg string, key *jwks.KeyInfo) error {
	if key.Algorithm != "" && key.Algorithm != alg {
		return token.NewValidationError(security.UnsupportedAlgorithm,
			"algorithm %q does not match key algorithm %q", alg, key.Algorithm)
	}
	switch key.Type {
	case jwks.KeyTypeRSA:
		if _, ok := key.Key.(*rsa.PublicKey); !ok {
			break
		}
		if strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS") {
			return nil
		}
	case jwks.KeyTypeEC:
		if _, ok := key.Key.(*ecdsa.PublicKey); !ok {
			break
		}
		if bits, ok := curveBitsFor[alg]; ok && bits == key.CurveBits() {
			return nil
		}
	}
	return token.NewValidationError(security.UnsupportedAlgorithm,
		"algorithm %q is not compatible with %s key", alg, key.Type)
}
