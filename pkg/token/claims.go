package token

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Registered claim names used by the validators.
const (
	ClaimIssuer          = "iss"
	ClaimSubject         = "sub"
	ClaimAudience        = "aud"
	ClaimExpiration      = "exp"
	ClaimNotBefore       = "nbf"
	ClaimIssuedAt        = "iat"
	ClaimJWTID           = "jti"
	ClaimAuthorizedParty = "azp"
	ClaimScope           = "scope"
	ClaimScopeList       = "scp"
	ClaimRoles           = "roles"
	ClaimGroups          = "groups"
	ClaimEmail           = "email"
	ClaimName            = "name"
	ClaimPreferredName   = "preferred_username"
	ClaimNonce           = "nonce"
)

// ClaimKind tags the variant held by a ClaimValue.
type ClaimKind int

const (
	KindAbsent ClaimKind = iota
	KindString
	KindStringList
	KindNumber
	KindBoolean
	KindObject
)

func (k ClaimKind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindStringList:
		return "string_list"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// ClaimValue is an immutable typed claim together with the textual form it
// was decoded from.
type ClaimValue struct {
	kind     ClaimKind
	str      string
	list     []string
	num      float64
	boolean  bool
	original string
}

// Absent is the value of a claim that is not present in the token.
var Absent = ClaimValue{}

func StringClaim(s string) ClaimValue {
	return ClaimValue{kind: KindString, str: s, original: s}
}

func StringListClaim(values []string) ClaimValue {
	cp := append([]string(nil), values...)
	return ClaimValue{kind: KindStringList, list: cp, original: strings.Join(cp, ",")}
}

func NumberClaim(n float64) ClaimValue {
	return ClaimValue{kind: KindNumber, num: n, original: strconv.FormatFloat(n, 'f', -1, 64)}
}

func BooleanClaim(b bool) ClaimValue {
	return ClaimValue{kind: KindBoolean, boolean: b, original: strconv.FormatBool(b)}
}

func (c ClaimValue) Kind() ClaimKind  { return c.kind }
func (c ClaimValue) IsPresent() bool  { return c.kind != KindAbsent }
func (c ClaimValue) Original() string { return c.original }
func (c ClaimValue) Number() float64  { return c.num }
func (c ClaimValue) Boolean() bool    { return c.boolean }

// String returns the string value; for other kinds it returns the original
// textual representation.
func (c ClaimValue) String() string {
	if c.kind == KindString {
		return c.str
	}
	return c.original
}

// Strings returns the value as a list. A plain string is returned as a
// single element list, matching how "aud" may be either.
func (c ClaimValue) Strings() []string {
	switch c.kind {
	case KindStringList:
		return append([]string(nil), c.list...)
	case KindString:
		if c.str == "" {
			return nil
		}
		return []string{c.str}
	default:
		return nil
	}
}

// MaxNumericDate is 9999-12-31T23:59:59Z. Larger magnitudes are not dates.
const MaxNumericDate = 253402300799

// Time interprets a numeric claim as NumericDate seconds. Values outside
// ±MaxNumericDate are reported as not a date.
func (c ClaimValue) Time() (time.Time, bool) {
	if c.kind != KindNumber || math.IsNaN(c.num) || math.Abs(c.num) > MaxNumericDate {
		return time.Time{}, false
	}
	sec, frac := math.Modf(c.num)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// MarshalJSON renders the value in its JSON form. Objects and numbers reuse
// the text they were decoded from.
func (c ClaimValue) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindString:
		return json.Marshal(c.str)
	case KindStringList:
		return json.Marshal(c.list)
	case KindBoolean:
		return json.Marshal(c.boolean)
	case KindNumber:
		if math.IsNaN(c.num) || math.IsInf(c.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(json.Number(c.original))
	case KindObject:
		if c.original == "" {
			return []byte("null"), nil
		}
		return []byte(c.original), nil
	default:
		return []byte("null"), nil
	}
}

// claimFromJSON converts a decoded JSON value (decoded with UseNumber) into
// a ClaimValue. Mixed or nested arrays become objects.
func claimFromJSON(raw any) ClaimValue {
	switch v := raw.(type) {
	case nil:
		return Absent
	case string:
		return StringClaim(v)
	case bool:
		return BooleanClaim(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return objectClaim(v)
		}
		cv := NumberClaim(f)
		cv.original = v.String()
		return cv
	case []any:
		list := make([]string, 0, len(v))
		for _, it := range v {
			s, ok := it.(string)
			if !ok {
				return objectClaim(v)
			}
			list = append(list, s)
		}
		cv := StringListClaim(list)
		cv.original = marshalOriginal(v)
		return cv
	default:
		return objectClaim(v)
	}
}

func objectClaim(v any) ClaimValue {
	return ClaimValue{kind: KindObject, original: marshalOriginal(v)}
}

func marshalOriginal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Claims is an immutable claim set keyed by claim name.
type Claims struct {
	values map[string]ClaimValue
}

func newClaims(raw map[string]any) Claims {
	values := make(map[string]ClaimValue, len(raw))
	for k, v := range raw {
		cv := claimFromJSON(v)
		if cv.IsPresent() {
			values[k] = cv
		}
	}
	return Claims{values: values}
}

// NewClaims builds a claim set from already typed values.
func NewClaims(values map[string]ClaimValue) Claims {
	cp := make(map[string]ClaimValue, len(values))
	for k, v := range values {
		if v.IsPresent() {
			cp[k] = v
		}
	}
	return Claims{values: cp}
}

// Get returns the claim or Absent.
func (c Claims) Get(name string) ClaimValue {
	return c.values[name]
}

func (c Claims) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

func (c Claims) Len() int {
	return len(c.values)
}

// Names returns the claim names in no particular order.
func (c Claims) Names() []string {
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	return out
}

// Map returns a copy of the underlying claim map.
func (c Claims) Map() map[string]ClaimValue {
	cp := make(map[string]ClaimValue, len(c.values))
	for k, v := range c.values {
		cp[k] = v
	}
	return cp
}

func (c Claims) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.values)
}
