package validator

import (
	"time"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

var mandatoryClaims = map[token.Type][]string{
	token.TypeAccess:  {token.ClaimIssuer, token.ClaimSubject, token.ClaimExpiration, token.ClaimIssuedAt},
	token.TypeID:      {token.ClaimIssuer, token.ClaimSubject, token.ClaimExpiration, token.ClaimIssuedAt, token.ClaimAudience},
	token.TypeRefresh: {token.ClaimIssuer},
}

// MandatoryClaims returns the claims a token of type t must carry. With
// subOptional only "sub" is dropped.
func MandatoryClaims(t token.Type, subOptional bool) []string {
	base := mandatoryClaims[t]
	out := make([]string, 0, len(base))
	for _, name := range base {
		if subOptional && name == token.ClaimSubject {
			continue
		}
		out = append(out, name)
	}
	return out
}

// ClaimValidator checks mandatory claims, then the time window, issuer,
// audience and authorized party.
type ClaimValidator struct {
	now func() time.Time
}

func (v ClaimValidator) ValidateMandatory(t token.Type, claims token.Claims, cfg *IssuerConfig) error {
	for _, name := range MandatoryClaims(t, cfg.ClaimSubOptional()) {
		value := claims.Get(name)
		if !value.IsPresent() {
			return token.NewValidationError(security.MissingClaim, "missing mandatory claim %q", name)
		}
		if !wellTyped(name, value) {
			return token.NewValidationError(security.MissingClaim, "claim %q has an invalid type %s", name, value.Kind())
		}
	}
	return nil
}

func wellTyped(name string, value token.ClaimValue) bool {
	switch name {
	case token.ClaimIssuer, token.ClaimSubject:
		return value.Kind() == token.KindString && value.String() != ""
	case token.ClaimExpiration, token.ClaimIssuedAt, token.ClaimNotBefore:
		_, ok := value.Time()
		return ok
	case token.ClaimAudience:
		return len(value.Strings()) > 0
	default:
		return true
	}
}

func (v ClaimValidator) Validate(t token.Type, claims token.Claims, cfg *IssuerConfig) error {
	now := time.Now()
	if v.now != nil {
		now = v.now()
	}
	leeway := cfg.Leeway()

	if iss := claims.Get(token.ClaimIssuer).String(); iss != cfg.Issuer() {
		return token.NewValidationError(security.IssuerMismatch, "token issuer does not match configured issuer")
	}

	if err := checkTime(claims, token.ClaimExpiration, func(exp time.Time) error {
		if now.After(exp.Add(leeway)) {
			return token.NewValidationError(security.TokenExpired, "token expired at %s", exp.Format(time.RFC3339))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := checkTime(claims, token.ClaimNotBefore, func(nbf time.Time) error {
		if now.Before(nbf.Add(-leeway)) {
			return token.NewValidationError(security.TokenNotYetValid, "token not valid before %s", nbf.Format(time.RFC3339))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := checkTime(claims, token.ClaimIssuedAt, func(iat time.Time) error {
		if iat.After(now.Add(leeway)) {
			return token.NewValidationError(security.TokenNotYetValid, "token issued in the future at %s", iat.Format(time.RFC3339))
		}
		return nil
	}); err != nil {
		return err
	}

	// Refresh tokens are bound to the issuer only.
	if t == token.TypeRefresh {
		return nil
	}

	audience := claims.Get(token.ClaimAudience).Strings()
	if expected := cfg.Audiences(); len(expected) > 0 && !intersects(audience, expected) {
		return token.NewValidationError(security.AudienceMismatch, "token audience does not match any expected audience")
	}

	if clientIDs := cfg.ClientIDs(); len(clientIDs) > 0 {
		azp := claims.Get(token.ClaimAuthorizedParty)
		switch {
		case azp.Kind() == token.KindString:
			if !intersects([]string{azp.String()}, clientIDs) {
				return token.NewValidationError(security.AZPMismatch, "authorized party does not match any expected client")
			}
		case azp.IsPresent():
			return token.NewValidationError(security.AZPMismatch, "authorized party claim is not a string")
		case len(audience) > 1:
			return token.NewValidationError(security.AZPMismatch, "authorized party is required for tokens with multiple audiences")
		}
	}
	return nil
}

// checkTime applies check to a NumericDate claim when it is present. A
// present claim that is not a NumericDate is rejected.
func checkTime(claims token.Claims, name string, check func(time.Time) error) error {
	value := claims.Get(name)
	if !value.IsPresent() {
		return nil
	}
	at, ok := value.Time()
	if !ok {
		return token.NewValidationError(security.MissingClaim, "claim %q is not a numeric date", name)
	}
	return check(at)
}

func intersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
