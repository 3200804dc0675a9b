package validator

import (
	"testing"
	"time"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
)

func TestNewIssuerConfigDefaults(t *testing.T) {
	cfg, err := NewIssuerConfig("  "+testIssuer+" ", testLoader(t, testIssuer))
	if err != nil {
		t.Fatalf("issuer config: %v", err)
	}
	if cfg.Issuer() != testIssuer {
		t.Fatalf("issuer not trimmed: %q", cfg.Issuer())
	}
	if cfg.Leeway() != DefaultLeeway || !cfg.Enabled() || cfg.ClaimSubOptional() {
		t.Fatal("unexpected defaults")
	}
	if len(cfg.Algorithms()) != len(DefaultAlgorithms) {
		t.Fatalf("algorithms = %v", cfg.Algorithms())
	}
	for _, alg := range DefaultAlgorithms {
		if !cfg.AllowsAlgorithm(alg) {
			t.Fatalf("%s should be allowed", alg)
		}
	}
	if cfg.AllowsAlgorithm("HS256") || cfg.AllowsAlgorithm("none") {
		t.Fatal("symmetric or none algorithms allowed")
	}
}

func TestNewIssuerConfigRejects(t *testing.T) {
	loader := testLoader(t, testIssuer)
	tests := []struct {
		name   string
		issuer string
		loader jwks.Loader
		opts   []IssuerOption
	}{
		{"empty issuer", "  ", loader, nil},
		{"nil loader", testIssuer, nil, nil},
		{"loader for other issuer", "https://other.example.com", loader, nil},
		{"none", testIssuer, loader, []IssuerOption{WithAlgorithms("RS256", "none")}},
		{"hmac", testIssuer, loader, []IssuerOption{WithAlgorithms("HS256")}},
		{"hmac lowercase", testIssuer, loader, []IssuerOption{WithAlgorithms("hs512")}},
		{"unknown alg", testIssuer, loader, []IssuerOption{WithAlgorithms("EdDSA")}},
		{"negative leeway", testIssuer, loader, []IssuerOption{WithLeeway(-time.Second)}},
		{"huge leeway", testIssuer, loader, []IssuerOption{WithLeeway(time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIssuerConfig(tt.issuer, tt.loader, tt.opts...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIssuerConfigCopiesLists(t *testing.T) {
	cfg := testIssuerConfig(t, testIssuer,
		WithAlgorithms("ES256", "RS256", "ES256"),
		WithAudiences("api", " ", "web"),
		WithClientIDs("client-a"),
	)
	algs := cfg.Algorithms()
	if len(algs) != 2 || algs[0] != "ES256" || algs[1] != "RS256" {
		t.Fatalf("algorithms = %v", algs)
	}
	algs[0] = "none"
	if cfg.AllowsAlgorithm("none") || cfg.Algorithms()[0] != "ES256" {
		t.Fatal("allow-list mutated through accessor")
	}
	if aud := cfg.Audiences(); len(aud) != 2 {
		t.Fatalf("audiences = %v", aud)
	}
}
