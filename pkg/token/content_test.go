package token

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestAccessTokenContentAccessors(t *testing.T) {
	claims := NewClaims(map[string]ClaimValue{
		ClaimIssuer:     StringClaim("https://issuer"),
		ClaimSubject:    StringClaim("alice"),
		ClaimExpiration: NumberClaim(2000000000),
		ClaimIssuedAt:   NumberClaim(1700000000),
		ClaimScope:      StringClaim("openid read write"),
		ClaimScopeList:  StringListClaim([]string{"read", "admin"}),
		ClaimRoles:      StringListClaim([]string{"ops"}),
		ClaimAudience:   StringClaim("api"),
		ClaimEmail:      StringClaim("alice@example.com"),
	})
	at := NewAccessTokenContent("raw", claims)

	if at.Type() != TypeAccess {
		t.Fatalf("unexpected type %s", at.Type())
	}
	if sub, ok := at.Subject(); !ok || sub != "alice" {
		t.Fatalf("unexpected subject %q", sub)
	}
	if got := at.Scopes(); len(got) != 4 {
		t.Fatalf("expected 4 distinct scopes, got %v", got)
	}
	if !at.ProvidesScopes("read", "admin") {
		t.Fatal("expected scopes read and admin")
	}
	if missing := at.MissingScopes("read", "delete"); len(missing) != 1 || missing[0] != "delete" {
		t.Fatalf("unexpected missing scopes %v", missing)
	}
	if !at.ProvidesRoles("ops") || at.ProvidesRoles("root") {
		t.Fatal("role check mismatch")
	}
	if aud := at.Audience(); len(aud) != 1 || aud[0] != "api" {
		t.Fatalf("unexpected audience %v", aud)
	}
	if at.ExpiresAt().Unix() != 2000000000 {
		t.Fatalf("unexpected exp %v", at.ExpiresAt())
	}
	if at.IsExpired(time.Unix(1900000000, 0)) {
		t.Fatal("token should not be expired yet")
	}
	if !at.IsExpired(time.Unix(2000000001, 0)) {
		t.Fatal("token should be expired")
	}
	if at.Email() != "alice@example.com" {
		t.Fatalf("unexpected email %q", at.Email())
	}
}

func TestContentWithoutSubject(t *testing.T) {
	at := NewAccessTokenContent("raw", NewClaims(map[string]ClaimValue{ClaimIssuer: StringClaim("x")}))
	if _, ok := at.Subject(); ok {
		t.Fatal("expected no subject")
	}
}

func TestIDTokenName(t *testing.T) {
	id := NewIDTokenContent("raw", NewClaims(map[string]ClaimValue{ClaimPreferredName: StringClaim("bob")}))
	if id.Name() != "bob" {
		t.Fatalf("expected preferred_username fallback, got %q", id.Name())
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{"access": TypeAccess, "ID_TOKEN": TypeID, " refresh ": TypeRefresh}
	for in, want := range tests {
		got, ok := ParseType(in)
		if !ok || got != want {
			t.Errorf("ParseType(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseType("bearer"); ok {
		t.Error("unexpected type for bearer")
	}
}

func TestClaimValueTime(t *testing.T) {
	if _, ok := StringClaim("123").Time(); ok {
		t.Fatal("string claims are not dates")
	}
	ts, ok := NumberClaim(1700000000.5).Time()
	if !ok || ts.Unix() != 1700000000 || ts.Nanosecond() != 500000000 {
		t.Fatalf("unexpected time %v", ts)
	}
	for _, n := range []float64{1e19, -1e19, MaxNumericDate + 1, math.Inf(1)} {
		if _, ok := NumberClaim(n).Time(); ok {
			t.Fatalf("%v must not be a date", n)
		}
	}
	if ts, ok := NumberClaim(MaxNumericDate).Time(); !ok || ts.Year() != 9999 {
		t.Fatalf("expected year 9999, got %v %v", ts, ok)
	}
}

func TestClaimsMarshalJSON(t *testing.T) {
	claims := newClaims(map[string]any{
		"iss":    "https://issuer",
		"aud":    []any{"a", "b"},
		"exp":    json.Number("1700000000"),
		"admin":  true,
		"nested": map[string]any{"k": json.Number("1")},
		"gone":   nil,
	})
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"admin":true,"aud":["a","b"],"exp":1700000000,"iss":"https://issuer","nested":{"k":1}}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}
