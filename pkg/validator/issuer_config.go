package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
)

// DefaultLeeway is the clock skew tolerated on exp, nbf and iat.
const DefaultLeeway = 60 * time.Second

// MaxLeeway caps the configurable skew.
const MaxLeeway = 10 * time.Minute

// DefaultAlgorithms is the allow-list used when an issuer does not set one.
var DefaultAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

var supportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
}

// forbiddenAlgorithm reports algorithms that may never appear in an
// allow-list or be accepted from a token header.
func forbiddenAlgorithm(alg string) bool {
	a := strings.ToUpper(strings.TrimSpace(alg))
	return a == "" || a == "NONE" || strings.HasPrefix(a, "HS")
}

// IssuerConfig binds an issuer identifier to its key source and claim policy.
// It is immutable once built.
type IssuerConfig struct {
	issuer           string
	loader           jwks.Loader
	algorithms       []string
	allowed          map[string]bool
	leeway           time.Duration
	audiences        []string
	clientIDs        []string
	claimSubOptional bool
	enabled          bool
}

// IssuerOption customizes an IssuerConfig during construction.
type IssuerOption func(*IssuerConfig)

func WithAlgorithms(algs ...string) IssuerOption {
	return func(c *IssuerConfig) { c.algorithms = append([]string(nil), algs...) }
}

func WithLeeway(d time.Duration) IssuerOption {
	return func(c *IssuerConfig) { c.leeway = d }
}

// WithAudiences requires the token "aud" to contain at least one of values.
func WithAudiences(values ...string) IssuerOption {
	return func(c *IssuerConfig) { c.audiences = cleanList(values) }
}

// WithClientIDs restricts the "azp" claim to the given client ids.
func WithClientIDs(values ...string) IssuerOption {
	return func(c *IssuerConfig) { c.clientIDs = cleanList(values) }
}

// WithClaimSubOptional drops "sub" from the mandatory claims. Every other
// mandatory claim is still enforced.
func WithClaimSubOptional(optional bool) IssuerOption {
	return func(c *IssuerConfig) { c.claimSubOptional = optional }
}

func WithEnabled(enabled bool) IssuerOption {
	return func(c *IssuerConfig) { c.enabled = enabled }
}

// NewIssuerConfig validates its input eagerly; a config that builds is
// always usable.
func NewIssuerConfig(issuer string, loader jwks.Loader, opts ...IssuerOption) (*IssuerConfig, error) {
	c := &IssuerConfig{
		issuer:  strings.TrimSpace(issuer),
		loader:  loader,
		leeway:  DefaultLeeway,
		enabled: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.issuer == "" {
		return nil, errors.New("issuer config: issuer identifier is required")
	}
	if c.loader == nil {
		return nil, fmt.Errorf("issuer config %s: jwks loader is required", c.issuer)
	}
	if li := c.loader.IssuerIdentifier(); li != "" && li != c.issuer {
		return nil, fmt.Errorf("issuer config %s: loader belongs to issuer %s", c.issuer, li)
	}
	if c.leeway < 0 || c.leeway > MaxLeeway {
		return nil, fmt.Errorf("issuer config %s: leeway %s outside [0, %s]", c.issuer, c.leeway, MaxLeeway)
	}

	if len(c.algorithms) == 0 {
		c.algorithms = append([]string(nil), DefaultAlgorithms...)
	}
	c.allowed = make(map[string]bool, len(c.algorithms))
	for _, alg := range c.algorithms {
		if forbiddenAlgorithm(alg) {
			return nil, fmt.Errorf("issuer config %s: algorithm %q is never allowed", c.issuer, alg)
		}
		if !supportedAlgorithms[alg] {
			return nil, fmt.Errorf("issuer config %s: unsupported algorithm %q", c.issuer, alg)
		}
		c.allowed[alg] = true
	}
	c.algorithms = c.algorithms[:0]
	for alg := range c.allowed {
		c.algorithms = append(c.algorithms, alg)
	}
	sort.Strings(c.algorithms)
	return c, nil
}

func (c *IssuerConfig) Issuer() string { return c.issuer }

func (c *IssuerConfig) Loader() jwks.Loader { return c.loader }

func (c *IssuerConfig) Leeway() time.Duration { return c.leeway }

func (c *IssuerConfig) ClaimSubOptional() bool { return c.claimSubOptional }

func (c *IssuerConfig) Enabled() bool { return c.enabled }

func (c *IssuerConfig) Algorithms() []string {
	return append([]string(nil), c.algorithms...)
}

func (c *IssuerConfig) Audiences() []string {
	return append([]string(nil), c.audiences...)
}

func (c *IssuerConfig) ClientIDs() []string {
	return append([]string(nil), c.clientIDs...)
}

// AllowsAlgorithm reports whether alg is on this issuer's allow-list.
func (c *IssuerConfig) AllowsAlgorithm(alg string) bool {
	return c.allowed[alg]
}

func (c *IssuerConfig) String() string {
	return fmt.Sprintf("IssuerConfig{issuer=%s jwks=%s algs=%v}", c.issuer, c.loader.Type(), c.algorithms)
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
