package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
)

const (
	DefaultMaxTokenSize    = 8 * 1024
	DefaultMaxPartSize     = 16 * 1024
	DefaultMaxDepth        = 10
	DefaultMaxArraySize    = 64
	DefaultMaxStringLength = 4 * 1024
)

// ParserConfig bounds the work done on untrusted input.
type ParserConfig struct {
	MaxTokenSize    int
	MaxPartSize     int
	MaxDepth        int
	MaxArraySize    int
	MaxStringLength int
}

func (c ParserConfig) withDefaults() ParserConfig {
	if c.MaxTokenSize <= 0 {
		c.MaxTokenSize = DefaultMaxTokenSize
	}
	if c.MaxPartSize <= 0 {
		c.MaxPartSize = DefaultMaxPartSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxArraySize <= 0 {
		c.MaxArraySize = DefaultMaxArraySize
	}
	if c.MaxStringLength <= 0 {
		c.MaxStringLength = DefaultMaxStringLength
	}
	return c
}

// Header holds the JOSE header fields the validators look at.
type Header struct {
	Alg string
	Kid string
	Typ string
	raw map[string]any
}

// Has reports whether the header carries the named parameter.
func (h Header) Has(name string) bool {
	_, ok := h.raw[name]
	return ok
}

// Critical returns the "crit" entries, if any.
func (h Header) Critical() []string {
	v, ok := h.raw["crit"]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return []string{fmt.Sprint(v)}
	}
	out := make([]string, 0, len(list))
	for _, it := range list {
		out = append(out, fmt.Sprint(it))
	}
	return out
}

// DecodedJWT is a structurally decoded token whose signature has not been
// checked yet.
type DecodedJWT struct {
	Header    Header
	Claims    Claims
	Signature []byte
	Parts     [3]string
	Raw       string
}

// SigningInput is the "header.payload" byte sequence the signature covers.
func (d *DecodedJWT) SigningInput() string {
	return d.Parts[0] + "." + d.Parts[1]
}

// Issuer returns the "iss" claim if it is a non-empty string.
func (d *DecodedJWT) Issuer() (string, bool) {
	v := d.Claims.Get(ClaimIssuer)
	if v.Kind() != KindString || v.String() == "" {
		return "", false
	}
	return v.String(), true
}

// String never prints the raw token.
func (d *DecodedJWT) String() string {
	return fmt.Sprintf("DecodedJWT{alg=%s kid=%s claims=%d}", d.Header.Alg, d.Header.Kid, d.Claims.Len())
}

// Parser decodes compact JWTs without verifying them. Safe for concurrent use.
type Parser struct {
	cfg ParserConfig
}

func NewParser(cfg ParserConfig) *Parser {
	return &Parser{cfg: cfg.withDefaults()}
}

// Config returns the effective limits.
func (p *Parser) Config() ParserConfig {
	return p.cfg
}

// Decode splits and decodes raw. Every failure is a *ValidationError.
func (p *Parser) Decode(raw string) (*DecodedJWT, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, NewValidationError(security.TokenEmpty, "token is empty")
	}
	if len(raw) > p.cfg.MaxTokenSize {
		return nil, NewValidationError(security.TokenSizeExceeded,
			"token size %d exceeds maximum %d", len(raw), p.cfg.MaxTokenSize)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, NewValidationError(security.InvalidJWTFormat,
			"expected 3 segments, got %d", len(parts))
	}
	for i, part := range parts {
		if part == "" {
			return nil, NewValidationError(security.InvalidJWTFormat, "segment %d is empty", i)
		}
	}

	headerBytes, err := p.decodePart(parts[0])
	if err != nil {
		return nil, partError(err, security.FailedToDecodeHeader, "header")
	}
	payloadBytes, err := p.decodePart(parts[1])
	if err != nil {
		return nil, partError(err, security.FailedToDecodePayload, "payload")
	}
	signature, err := p.decodePart(parts[2])
	if err != nil {
		return nil, partError(err, security.FailedToDecodeSignature, "signature")
	}

	headerMap, err := p.decodeObject(headerBytes)
	if err != nil {
		return nil, jsonError(err, security.FailedToDecodeHeader, "header")
	}
	payloadMap, err := p.decodeObject(payloadBytes)
	if err != nil {
		return nil, jsonError(err, security.FailedToDecodePayload, "payload")
	}

	header := Header{raw: headerMap}
	header.Alg, _ = headerMap["alg"].(string)
	header.Kid, _ = headerMap["kid"].(string)
	header.Typ, _ = headerMap["typ"].(string)

	return &DecodedJWT{
		Header:    header,
		Claims:    newClaims(payloadMap),
		Signature: signature,
		Parts:     [3]string{parts[0], parts[1], parts[2]},
		Raw:       raw,
	}, nil
}

var errPartTooLarge = errors.New("decoded part too large")

func (p *Parser) decodePart(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if base64.RawURLEncoding.DecodedLen(len(s)) > p.cfg.MaxPartSize {
		return nil, errPartTooLarge
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func (p *Parser) decodeObject(data []byte) (map[string]any, error) {
	if err := checkJSONLimits(data, p.cfg.MaxDepth, p.cfg.MaxArraySize, p.cfg.MaxStringLength); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after json object")
	}
	if out == nil {
		return nil, errors.New("json value is not an object")
	}
	return out, nil
}

func partError(err error, event security.EventType, part string) error {
	if errors.Is(err, errPartTooLarge) {
		return NewValidationError(security.DecodedPartSizeExceeded, "%s exceeds maximum decoded size", part)
	}
	return NewValidationError(event, "%s is not valid base64url", part)
}

func jsonError(err error, event security.EventType, part string) error {
	if errors.Is(err, errJSONDepth) || errors.Is(err, errJSONArraySize) || errors.Is(err, errJSONStringLength) {
		return NewValidationError(security.JSONLimitExceeded, "%s: %v", part, err)
	}
	return NewValidationError(event, "%s is not a valid json object", part)
}
