package token

import (
	"strings"
	"time"
)

// Type identifies which kind of token a content value represents.
type Type int

const (
	TypeAccess Type = iota
	TypeID
	TypeRefresh
)

func (t Type) String() string {
	switch t {
	case TypeAccess:
		return "access"
	case TypeID:
		return "id"
	case TypeRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// ParseType maps "access", "id" and "refresh" to a Type.
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "access", "access_token":
		return TypeAccess, true
	case "id", "id_token":
		return TypeID, true
	case "refresh", "refresh_token":
		return TypeRefresh, true
	default:
		return 0, false
	}
}

// Content is the common read-only view over a validated token.
type Content struct {
	tokenType Type
	raw       string
	claims    Claims
}

func (c *Content) Type() Type       { return c.tokenType }
func (c *Content) Claims() Claims   { return c.claims }
func (c *Content) RawToken() string { return c.raw }

func (c *Content) Issuer() string {
	return c.claims.Get(ClaimIssuer).String()
}

// Subject returns "sub"; ok is false when the claim is absent, which is only
// possible when the issuer allows an optional subject.
func (c *Content) Subject() (string, bool) {
	v := c.claims.Get(ClaimSubject)
	if v.Kind() != KindString {
		return "", false
	}
	return v.String(), true
}

func (c *Content) Audience() []string {
	return c.claims.Get(ClaimAudience).Strings()
}

func (c *Content) ExpiresAt() time.Time {
	t, _ := c.claims.Get(ClaimExpiration).Time()
	return t
}

func (c *Content) IssuedAt() time.Time {
	t, _ := c.claims.Get(ClaimIssuedAt).Time()
	return t
}

// NotBefore returns "nbf" when present.
func (c *Content) NotBefore() (time.Time, bool) {
	return c.claims.Get(ClaimNotBefore).Time()
}

// IsExpired reports whether the token expired before now. Validation already
// rejected expired tokens; this is for long-lived holders of the content.
func (c *Content) IsExpired(now time.Time) bool {
	exp := c.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}

// AccessTokenContent is a fully validated access token.
type AccessTokenContent struct {
	Content
}

func NewAccessTokenContent(raw string, claims Claims) *AccessTokenContent {
	return &AccessTokenContent{Content{tokenType: TypeAccess, raw: raw, claims: claims}}
}

// Scopes merges the space separated "scope" claim and the "scp" list.
func (a *AccessTokenContent) Scopes() []string {
	var out []string
	if v := a.claims.Get(ClaimScope); v.Kind() == KindString {
		out = append(out, strings.Fields(v.String())...)
	} else {
		out = append(out, v.Strings()...)
	}
	out = append(out, a.claims.Get(ClaimScopeList).Strings()...)
	return dedupe(out)
}

func (a *AccessTokenContent) Roles() []string {
	return a.claims.Get(ClaimRoles).Strings()
}

func (a *AccessTokenContent) Groups() []string {
	return a.claims.Get(ClaimGroups).Strings()
}

func (a *AccessTokenContent) Email() string {
	return a.claims.Get(ClaimEmail).String()
}

func (a *AccessTokenContent) AuthorizedParty() string {
	return a.claims.Get(ClaimAuthorizedParty).String()
}

// ProvidesScopes reports whether every expected scope is granted.
func (a *AccessTokenContent) ProvidesScopes(expected ...string) bool {
	return containsAll(a.Scopes(), expected)
}

func (a *AccessTokenContent) ProvidesRoles(expected ...string) bool {
	return containsAll(a.Roles(), expected)
}

func (a *AccessTokenContent) ProvidesGroups(expected ...string) bool {
	return containsAll(a.Groups(), expected)
}

// MissingScopes returns the expected scopes the token does not carry.
func (a *AccessTokenContent) MissingScopes(expected ...string) []string {
	return missing(a.Scopes(), expected)
}

// IDTokenContent is a fully validated OIDC ID token.
type IDTokenContent struct {
	Content
}

func NewIDTokenContent(raw string, claims Claims) *IDTokenContent {
	return &IDTokenContent{Content{tokenType: TypeID, raw: raw, claims: claims}}
}

func (i *IDTokenContent) Email() string {
	return i.claims.Get(ClaimEmail).String()
}

func (i *IDTokenContent) Name() string {
	if v := i.claims.Get(ClaimName); v.IsPresent() {
		return v.String()
	}
	return i.claims.Get(ClaimPreferredName).String()
}

func (i *IDTokenContent) Nonce() string {
	return i.claims.Get(ClaimNonce).String()
}

// RefreshTokenContent is a validated JWT refresh token.
type RefreshTokenContent struct {
	Content
}

func NewRefreshTokenContent(raw string, claims Claims) *RefreshTokenContent {
	return &RefreshTokenContent{Content{tokenType: TypeRefresh, raw: raw, claims: claims}}
}

func containsAll(have, expected []string) bool {
	return len(missing(have, expected)) == 0
}

func missing(have, expected []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	var out []string
	for _, e := range expected {
		if _, ok := set[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
