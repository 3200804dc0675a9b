package validator

import (
	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

// HeaderValidator filters tokens on their JOSE header alone. jku and x5u are
// never read; keys only come from the issuer's configured loader.
type HeaderValidator struct{}

func (HeaderValidator) Validate(h token.Header, cfg *IssuerConfig) error {
	if forbiddenAlgorithm(h.Alg) {
		return token.NewValidationError(security.UnsupportedAlgorithm, "algorithm %q is not accepted", h.Alg)
	}
	if !cfg.AllowsAlgorithm(h.Alg) {
		return token.NewValidationError(security.UnsupportedAlgorithm, "algorithm %q is not allowed for issuer", h.Alg)
	}
	if h.Has("jwk") {
		return token.NewValidationError(security.EmbeddedJWKRejected, "embedded jwk header is not accepted")
	}
	// No extensions are understood, so any crit entry makes the token unusable.
	if h.Has("crit") {
		return token.NewValidationError(security.UnsupportedCriticalHeader, "critical header parameters %v are not supported", h.Critical())
	}
	return nil
}
