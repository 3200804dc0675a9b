package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

func TestCreateAccessTokenSuccess(t *testing.T) {
	rk, ek, ek384 := testKeys(t)
	tests := []struct {
		name   string
		method jwt.SigningMethod
		kid    string
		key    any
	}{
		{"RS256", jwt.SigningMethodRS256, "rsa-1", rk},
		{"RS512", jwt.SigningMethodRS512, "rsa-1", rk},
		{"PS256", jwt.SigningMethodPS256, "rsa-1", rk},
		{"ES256", jwt.SigningMethodES256, "ec-1", ek},
		{"ES384", jwt.SigningMethodES384, "ec-384", ek384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t)
			raw := signToken(t, tt.method, tt.kid, tt.key, accessClaims())

			content, err := v.CreateAccessToken(context.Background(), raw)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if content.Issuer() != testIssuer {
				t.Fatalf("issuer = %q", content.Issuer())
			}
			if sub, ok := content.Subject(); !ok || sub != "user-1" {
				t.Fatalf("subject = %q %v", sub, ok)
			}
			if !content.ProvidesScopes("read", "write") || !content.ProvidesRoles("admin") {
				t.Fatalf("unexpected scopes %v roles %v", content.Scopes(), content.Roles())
			}
			if !content.ExpiresAt().Equal(fixedNow.Add(time.Hour)) {
				t.Fatalf("exp = %v", content.ExpiresAt())
			}
			if content.RawToken() != raw {
				t.Fatal("raw token not preserved")
			}
			if got := v.Counter().Count(security.AccessTokenCreated); got != 1 {
				t.Fatalf("success count = %d", got)
			}
			if st := v.Monitor().Stats(CompleteValidation); st.Count != 1 {
				t.Fatalf("complete validation count = %d", st.Count)
			}
		})
	}
}

func TestCreateIDToken(t *testing.T) {
	rk, _, _ := testKeys(t)
	v := newTestValidator(t, testIssuerConfig(t, testIssuer, WithAudiences("web-app")))

	claims := accessClaims()
	claims["aud"] = "web-app"
	claims["email"] = "jane@example.com"
	claims["preferred_username"] = "jane"
	claims["nonce"] = "n-1"
	content, err := v.CreateIDToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if content.Email() != "jane@example.com" || content.Name() != "jane" || content.Nonce() != "n-1" {
		t.Fatalf("unexpected id token content: %q %q %q", content.Email(), content.Name(), content.Nonce())
	}
	if v.Counter().Count(security.IDTokenCreated) != 1 {
		t.Fatal("id token success not counted")
	}

	delete(claims, "aud")
	_, err = v.CreateIDToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims))
	if !token.IsEvent(err, security.MissingClaim) {
		t.Fatalf("expected missing aud, got %v", err)
	}
}

func TestCreateRefreshToken(t *testing.T) {
	_, ek, _ := testKeys(t)
	v := newTestValidator(t)
	raw := signToken(t, jwt.SigningMethodES256, "ec-1", ek, jwt.MapClaims{"iss": testIssuer})
	content, err := v.CreateRefreshToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if content.Type() != token.TypeRefresh || content.Issuer() != testIssuer {
		t.Fatalf("unexpected refresh content %v %q", content.Type(), content.Issuer())
	}

	// The same token lacks sub, exp and iat, so it is not an access token.
	if _, err := v.CreateAccessToken(context.Background(), raw); !token.IsEvent(err, security.MissingClaim) {
		t.Fatalf("expected missing claim, got %v", err)
	}
}

func TestValidationFailures(t *testing.T) {
	rk, ek, _ := testKeys(t)
	const strictIssuer = "https://strict.example.com"

	with := func(mut func(jwt.MapClaims)) jwt.MapClaims {
		c := accessClaims()
		mut(c)
		return c
	}
	strict := func(mut func(jwt.MapClaims)) jwt.MapClaims {
		return with(func(c jwt.MapClaims) {
			c["iss"] = strictIssuer
			c["aud"] = []string{"api"}
			c["azp"] = "client-a"
			mut(c)
		})
	}
	validPayload := map[string]any(accessClaims())

	tests := []struct {
		name  string
		raw   func() string
		event security.EventType
	}{
		{"empty", func() string { return "" }, security.TokenEmpty},
		{"oversize", func() string { return strings.Repeat("a", token.DefaultMaxTokenSize+1) }, security.TokenSizeExceeded},
		{"two segments", func() string { return "abc.def" }, security.InvalidJWTFormat},
		{"alg none", func() string {
			return rawToken(t, map[string]any{"alg": "none", "kid": "rsa-1"}, validPayload, []byte("x"))
		}, security.UnsupportedAlgorithm},
		{"alg none uppercase", func() string {
			return rawToken(t, map[string]any{"alg": "NONE", "kid": "rsa-1"}, validPayload, []byte("x"))
		}, security.UnsupportedAlgorithm},
		{"hs256 against rsa key", func() string {
			return signToken(t, jwt.SigningMethodHS256, "rsa-1", []byte("shared-secret-shared-secret-1234"), accessClaims())
		}, security.UnsupportedAlgorithm},
		{"embedded jwk", func() string {
			return signTokenWithHeader(t, jwt.SigningMethodRS256, "rsa-1", rk, accessClaims(),
				map[string]any{"jwk": map[string]any{"kty": "RSA", "n": "AQAB", "e": "AQAB"}})
		}, security.EmbeddedJWKRejected},
		{"crit header", func() string {
			return signTokenWithHeader(t, jwt.SigningMethodRS256, "rsa-1", rk, accessClaims(),
				map[string]any{"crit": []string{"exp"}})
		}, security.UnsupportedCriticalHeader},
		{"rsa alg on ec key", func() string {
			return signToken(t, jwt.SigningMethodRS256, "ec-1", rk, accessClaims())
		}, security.UnsupportedAlgorithm},
		{"es256 on p384 key", func() string {
			return signToken(t, jwt.SigningMethodES256, "ec-384", ek, accessClaims())
		}, security.UnsupportedAlgorithm},
		{"es256 zero signature", func() string {
			return rawToken(t, map[string]any{"alg": "ES256", "kid": "ec-1"}, validPayload, make([]byte, 64))
		}, security.SignatureValidationFailed},
		{"tampered payload", func() string {
			parts := strings.Split(signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, accessClaims()), ".")
			forged := strings.Split(rawToken(t, map[string]any{"alg": "RS256"}, with(func(c jwt.MapClaims) { c["sub"] = "root" }), nil), ".")
			return parts[0] + "." + forged[1] + "." + parts[2]
		}, security.SignatureValidationFailed},
		{"missing kid", func() string {
			return signToken(t, jwt.SigningMethodRS256, "", rk, accessClaims())
		}, security.KeyNotFound},
		{"unknown kid", func() string {
			return signToken(t, jwt.SigningMethodRS256, "../../etc/passwd", rk, accessClaims())
		}, security.KeyNotFound},
		{"unknown issuer", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { c["iss"] = "https://b.example.com" }))
		}, security.NoIssuerConfig},
		{"missing issuer", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { delete(c, "iss") }))
		}, security.MissingClaim},
		{"missing subject", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { delete(c, "sub") }))
		}, security.MissingClaim},
		{"missing exp", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { delete(c, "exp") }))
		}, security.MissingClaim},
		{"string exp", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { c["exp"] = "tomorrow" }))
		}, security.MissingClaim},
		{"expired", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) {
				c["exp"] = fixedNow.Add(-DefaultLeeway - time.Second).Unix()
			}))
		}, security.TokenExpired},
		{"not before in future", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) {
				c["nbf"] = fixedNow.Add(DefaultLeeway + time.Minute).Unix()
			}))
		}, security.TokenNotYetValid},
		{"issued in future", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) {
				c["iat"] = fixedNow.Add(DefaultLeeway + time.Minute).Unix()
			}))
		}, security.TokenNotYetValid},
		{"exp beyond year 9999", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { c["exp"] = 1e19 }))
		}, security.MissingClaim},
		{"exp far negative", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { c["exp"] = -1e19 }))
		}, security.MissingClaim},
		{"nbf beyond year 9999", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { c["nbf"] = 1e19 }))
		}, security.MissingClaim},
		{"iat beyond year 9999", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, with(func(c jwt.MapClaims) { c["iat"] = 1e19 }))
		}, security.MissingClaim},
		{"audience mismatch", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, strict(func(c jwt.MapClaims) { c["aud"] = "other" }))
		}, security.AudienceMismatch},
		{"azp mismatch", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, strict(func(c jwt.MapClaims) { c["azp"] = "client-b" }))
		}, security.AZPMismatch},
		{"azp missing with multiple audiences", func() string {
			return signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, strict(func(c jwt.MapClaims) {
				c["aud"] = []string{"api", "other"}
				delete(c, "azp")
			}))
		}, security.AZPMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t,
				testIssuerConfig(t, testIssuer),
				testIssuerConfig(t, strictIssuer, WithAudiences("api"), WithClientIDs("client-a")),
			)
			content, err := v.CreateAccessToken(context.Background(), tt.raw())
			if err == nil {
				t.Fatalf("expected %s, got content %v", tt.event, content)
			}
			if content != nil {
				t.Fatal("content must be nil on failure")
			}
			var ve *token.ValidationError
			if !errors.As(err, &ve) || ve.Event != tt.event {
				t.Fatalf("expected %s, got %v", tt.event, err)
			}
			snapshot := v.Counter().Snapshot()
			if len(snapshot) != 1 || snapshot[tt.event] != 1 {
				t.Fatalf("expected exactly one %s increment, got %v", tt.event, snapshot)
			}
		})
	}
}

func TestStrictIssuerAccepts(t *testing.T) {
	rk, _, _ := testKeys(t)
	const strictIssuer = "https://strict.example.com"
	v := newTestValidator(t, testIssuerConfig(t, strictIssuer, WithAudiences("api"), WithClientIDs("client-a")))

	claims := accessClaims()
	claims["iss"] = strictIssuer
	claims["aud"] = []string{"api", "other"}
	claims["azp"] = "client-a"
	if _, err := v.CreateAccessToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// A single audience does not require azp.
	delete(claims, "azp")
	claims["aud"] = "api"
	if _, err := v.CreateAccessToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims)); err != nil {
		t.Fatalf("validate without azp: %v", err)
	}
}

func TestLeewayAcceptsRecentlyExpired(t *testing.T) {
	rk, _, _ := testKeys(t)
	v := newTestValidator(t)
	claims := accessClaims()
	claims["exp"] = fixedNow.Add(-DefaultLeeway + time.Second).Unix()
	if _, err := v.CreateAccessToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims)); err != nil {
		t.Fatalf("token inside leeway rejected: %v", err)
	}
}

func TestClaimSubOptional(t *testing.T) {
	rk, _, _ := testKeys(t)
	v := newTestValidator(t, testIssuerConfig(t, testIssuer, WithClaimSubOptional(true)))

	claims := accessClaims()
	delete(claims, "sub")
	content, err := v.CreateAccessToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, ok := content.Subject(); ok {
		t.Fatal("subject should be absent")
	}

	delete(claims, "exp")
	_, err = v.CreateAccessToken(context.Background(), signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, claims))
	if !token.IsEvent(err, security.MissingClaim) {
		t.Fatalf("exp must stay mandatory, got %v", err)
	}
}

func TestOversizeRejectedBeforeParsing(t *testing.T) {
	v := newTestValidator(t)
	// Valid base64 segments that would decode to invalid JSON; size must win.
	raw := strings.Repeat("e30", 1500) + "." + strings.Repeat("e30", 1500) + "." + strings.Repeat("A", 100)
	_, err := v.CreateAccessToken(context.Background(), raw)
	if !token.IsEvent(err, security.TokenSizeExceeded) {
		t.Fatalf("expected size exceeded, got %v", err)
	}
	if st := v.Monitor().Stats(IssuerExtraction); st.Count != 0 {
		t.Fatal("pipeline continued after parse failure")
	}
}

func TestCounterTotalsUnderConcurrency(t *testing.T) {
	rk, _, _ := testKeys(t)
	v := newTestValidator(t)

	expired := accessClaims()
	expired["exp"] = fixedNow.Add(-time.Hour).Unix()
	expiredRaw := signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, expired)
	validRaw := signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, accessClaims())

	const workers, perWorker = 50, 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = v.CreateAccessToken(context.Background(), expiredRaw)
				_, _ = v.CreateAccessToken(context.Background(), validRaw)
			}
		}()
	}
	wg.Wait()

	if got := v.Counter().Count(security.TokenExpired); got != workers*perWorker {
		t.Fatalf("expired count = %d, want %d", got, workers*perWorker)
	}
	if got := v.Counter().Count(security.AccessTokenCreated); got != workers*perWorker {
		t.Fatalf("created count = %d, want %d", got, workers*perWorker)
	}
	if st := v.Monitor().Stats(CompleteValidation); st.Count != workers*perWorker {
		t.Fatalf("complete validation samples = %d", st.Count)
	}
}

func TestValidateByType(t *testing.T) {
	rk, _, _ := testKeys(t)
	v := newTestValidator(t)
	raw := signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, accessClaims())
	content, err := v.Validate(context.Background(), token.TypeAccess, raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if content.Type() != token.TypeAccess {
		t.Fatalf("type = %v", content.Type())
	}
	if _, err := v.Validate(context.Background(), token.Type(42), raw); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestNewRejectsBadConfigs(t *testing.T) {
	a := testIssuerConfig(t, testIssuer)
	if _, err := New(nil); err == nil {
		t.Fatal("expected error without issuers")
	}
	if _, err := New([]*IssuerConfig{a, testIssuerConfig(t, testIssuer)}); err == nil {
		t.Fatal("expected duplicate issuer error")
	}
}

func TestValidationSurvivesJWKSOutage(t *testing.T) {
	rk, _, _ := testKeys(t)
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{{
			"kty": "RSA",
			"kid": "rsa-1",
			"n":   base64.RawURLEncoding.EncodeToString(rk.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(rk.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)

	loader, err := jwks.NewHTTPLoader(jwks.HTTPConfig{
		Issuer:        testIssuer,
		URL:           srv.URL,
		MaxAttempts:   1,
		MinRefreshGap: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("http loader: %v", err)
	}
	cfg, err := NewIssuerConfig(testIssuer, loader)
	if err != nil {
		t.Fatalf("issuer config: %v", err)
	}
	v := newTestValidator(t, cfg)
	ctx := context.Background()
	raw := signToken(t, jwt.SigningMethodRS256, "rsa-1", rk, accessClaims())

	if _, err := v.CreateAccessToken(ctx, raw); err != nil {
		t.Fatalf("validation with a healthy endpoint: %v", err)
	}
	if loader.CurrentStatus() != jwks.StatusOK {
		t.Fatalf("expected OK, got %s", loader.CurrentStatus())
	}

	// An unknown kid forces a refresh, which now fails.
	failing.Store(true)
	_, err = v.CreateAccessToken(ctx, signToken(t, jwt.SigningMethodRS256, "rsa-2", rk, accessClaims()))
	if !token.IsEvent(err, security.KeyNotFound) {
		t.Fatalf("expected key_not_found, got %v", err)
	}
	if loader.CurrentStatus() != jwks.StatusError {
		t.Fatalf("expected ERROR after failed refresh, got %s", loader.CurrentStatus())
	}
	if v.Counter().Count(security.JWKSFetchFailed) == 0 {
		t.Fatal("fetch failure not counted")
	}

	content, err := v.CreateAccessToken(ctx, raw)
	if err != nil {
		t.Fatalf("cached keys must keep validating during the outage: %v", err)
	}
	if sub, _ := content.Subject(); sub != "user-1" {
		t.Fatalf("unexpected subject %q", sub)
	}
	if loader.CurrentStatus() != jwks.StatusError {
		t.Fatal("status must stay ERROR while serving cached keys")
	}
}
