package bench

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/jwtguard/internal/controllers"
	"github.com/osvaldoandrade/jwtguard/internal/middleware"
	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

const benchIssuer = "https://bench.example.com"

type benchEnv struct {
	v     *validator.TokenValidator
	token string
}

func newBenchEnv(b *testing.B) *benchEnv {
	b.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		b.Fatalf("ec key: %v", err)
	}
	loader := jwks.NewMemoryLoaderFromKeys(benchIssuer, jwks.NewECKeyInfo("bench", "ES256", &key.PublicKey))
	cfg, err := validator.NewIssuerConfig(benchIssuer, loader, validator.WithAudiences("bench-api"))
	if err != nil {
		b.Fatalf("issuer config: %v", err)
	}
	v, err := validator.New([]*validator.IssuerConfig{cfg})
	if err != nil {
		b.Fatalf("validator: %v", err)
	}
	b.Cleanup(func() { _ = v.Close() })

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss":   benchIssuer,
		"sub":   "bench-user",
		"aud":   "bench-api",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "openid profile",
		"roles": []string{"reader"},
	})
	tok.Header["kid"] = "bench"
	signed, err := tok.SignedString(key)
	if err != nil {
		b.Fatalf("sign: %v", err)
	}
	return &benchEnv{v: v, token: signed}
}

func BenchmarkValidator_CreateAccessToken(b *testing.B) {
	env := newBenchEnv(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.v.CreateAccessToken(ctx, env.token); err != nil {
			b.Fatalf("validate: %v", err)
		}
	}
}

func BenchmarkValidator_Parallel(b *testing.B) {
	env := newBenchEnv(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := env.v.Validate(ctx, token.TypeAccess, env.token); err != nil {
				b.Errorf("validate: %v", err)
				return
			}
		}
	})
}

func BenchmarkValidator_RejectMalformed(b *testing.B) {
	env := newBenchEnv(b)
	ctx := context.Background()
	garbage := env.token[:len(env.token)/2]

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.v.CreateAccessToken(ctx, garbage); err == nil {
			b.Fatal("expected rejection")
		}
	}
}

func BenchmarkHTTP_ValidateEndpoint(b *testing.B) {
	env := newBenchEnv(b)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.POST("/v1/tokens/:type/validate", controllers.NewValidateTokenController(env.v).Handle)
	body, _ := json.Marshal(map[string]string{"token": env.token})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/tokens/access/validate", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("status %d body=%s", w.Code, w.Body.String())
		}
	}
}

func BenchmarkHTTP_BearerAuth(b *testing.B) {
	env := newBenchEnv(b)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/v1/me", middleware.BearerAuth(env.v), controllers.NewMeController().Handle)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+env.token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("status %d", w.Code)
		}
	}
}
