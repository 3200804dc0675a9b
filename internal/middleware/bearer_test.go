package middleware

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

const testIssuer = "https://idp.example.com"

type testEnv struct {
	jwksSrv   *httptest.Server
	privKey   *rsa.PrivateKey
	validator *validator.TokenValidator
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key gen: %v", err)
	}
	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": "kid-1", "use": "sig", "n": n, "e": e}},
		})
	}))
	t.Cleanup(jwksSrv.Close)

	loader, err := jwks.NewHTTPLoader(jwks.HTTPConfig{Issuer: testIssuer, URL: jwksSrv.URL})
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	cfg, err := validator.NewIssuerConfig(testIssuer, loader)
	if err != nil {
		t.Fatalf("issuer config: %v", err)
	}
	v, err := validator.New([]*validator.IssuerConfig{cfg})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return &testEnv{jwksSrv: jwksSrv, privKey: privKey, validator: v}
}

func signJWT(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": kid}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	h := enc(header)
	p := enc(claims)
	signingInput := h + "." + p
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	s := base64.RawURLEncoding.EncodeToString(sig)
	return signingInput + "." + s
}

func validClaims() map[string]any {
	now := time.Now().Unix()
	return map[string]any{
		"iss":   testIssuer,
		"sub":   "user-1",
		"exp":   now + 3600,
		"iat":   now - 10,
		"scope": "profile email",
		"roles": []string{"auditor"},
	}
}

func newRouter(env *testEnv, handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	chain := append([]gin.HandlerFunc{BearerAuth(env.validator, "profile")}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		content, ok := AccessTokenFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		sub, _ := content.Subject()
		c.JSON(http.StatusOK, gin.H{"sub": sub})
	})
	r.GET("/me", chain...)
	return r
}

func do(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBearerAuthValid(t *testing.T) {
	env := setupEnv(t)
	w := do(newRouter(env), "Bearer "+signJWT(t, env.privKey, "kid-1", validClaims()))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["sub"] != "user-1" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id header missing")
	}
}

func TestBearerAuthRejects(t *testing.T) {
	env := setupEnv(t)
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	noScope := validClaims()
	noScope["scope"] = "email"

	tests := []struct {
		name   string
		header string
		status int
		event  string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, "invalid_jwt_format"},
		{"expired", "Bearer " + signJWT(t, env.privKey, "kid-1", expired), http.StatusUnauthorized, "token_expired"},
		{"unknown kid", "Bearer " + signJWT(t, env.privKey, "kid-2", validClaims()), http.StatusUnauthorized, "key_not_found"},
		{"missing scope", "Bearer " + signJWT(t, env.privKey, "kid-1", noScope), http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(env), tt.header)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("WWW-Authenticate header missing")
			}
			if tt.event != "" {
				var body map[string]any
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body["event"] != tt.event {
					t.Fatalf("event = %v, want %s", body["event"], tt.event)
				}
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	env := setupEnv(t)
	tok := "Bearer " + signJWT(t, env.privKey, "kid-1", validClaims())

	if w := do(newRouter(env, RequireRoles("auditor")), tok); w.Code != http.StatusOK {
		t.Fatalf("auditor role: expected 200, got %d", w.Code)
	}
	if w := do(newRouter(env, RequireRoles("admin")), tok); w.Code != http.StatusForbidden {
		t.Fatalf("admin role: expected 403, got %d", w.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "req-123" || w.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("request id not propagated: %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))
	if len(w.Body.String()) != 36 {
		t.Fatalf("expected generated uuid, got %q", w.Body.String())
	}
}
