package security

// Category groups event types for reporting.
type Category int

const (
	CategoryInvalidStructure Category = iota
	CategoryInvalidSignature
	CategorySemanticIssues
	CategoryJwks
	CategorySuccess
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidStructure:
		return "invalid_structure"
	case CategoryInvalidSignature:
		return "invalid_signature"
	case CategorySemanticIssues:
		return "semantic_issues"
	case CategoryJwks:
		return "jwks"
	case CategorySuccess:
		return "success"
	default:
		return "unknown"
	}
}

// EventType is a closed enumeration of every countable validation event.
type EventType int

const (
	TokenEmpty EventType = iota
	TokenSizeExceeded
	InvalidJWTFormat
	FailedToDecodeHeader
	FailedToDecodePayload
	FailedToDecodeSignature
	DecodedPartSizeExceeded
	JSONLimitExceeded
	UnsupportedAlgorithm
	EmbeddedJWKRejected
	UnsupportedCriticalHeader
	KeyNotFound
	SignatureValidationFailed
	NoIssuerConfig
	MissingClaim
	IssuerMismatch
	TokenExpired
	TokenNotYetValid
	AudienceMismatch
	AZPMismatch
	JWKSFetchFailed
	JWKSParseFailed
	JWKSFileReadFailed
	KeyRotationDetected
	AccessTokenCreated
	IDTokenCreated
	RefreshTokenCreated

	eventTypeCount
)

type eventInfo struct {
	name     string
	category Category
}

var eventInfos = [eventTypeCount]eventInfo{
	TokenEmpty:                {"token_empty", CategoryInvalidStructure},
	TokenSizeExceeded:         {"token_size_exceeded", CategoryInvalidStructure},
	InvalidJWTFormat:          {"invalid_jwt_format", CategoryInvalidStructure},
	FailedToDecodeHeader:      {"failed_to_decode_header", CategoryInvalidStructure},
	FailedToDecodePayload:     {"failed_to_decode_payload", CategoryInvalidStructure},
	FailedToDecodeSignature:   {"failed_to_decode_signature", CategoryInvalidStructure},
	DecodedPartSizeExceeded:   {"decoded_part_size_exceeded", CategoryInvalidStructure},
	JSONLimitExceeded:         {"json_limit_exceeded", CategoryInvalidStructure},
	UnsupportedAlgorithm:      {"unsupported_algorithm", CategoryInvalidSignature},
	EmbeddedJWKRejected:       {"embedded_jwk_rejected", CategoryInvalidSignature},
	UnsupportedCriticalHeader: {"unsupported_critical_header", CategoryInvalidStructure},
	KeyNotFound:               {"key_not_found", CategoryInvalidSignature},
	SignatureValidationFailed: {"signature_validation_failed", CategoryInvalidSignature},
	NoIssuerConfig:            {"no_issuer_config", CategorySemanticIssues},
	MissingClaim:              {"missing_claim", CategorySemanticIssues},
	IssuerMismatch:            {"issuer_mismatch", CategorySemanticIssues},
	TokenExpired:              {"token_expired", CategorySemanticIssues},
	TokenNotYetValid:          {"token_not_yet_valid", CategorySemanticIssues},
	AudienceMismatch:          {"audience_mismatch", CategorySemanticIssues},
	AZPMismatch:               {"azp_mismatch", CategorySemanticIssues},
	JWKSFetchFailed:           {"jwks_fetch_failed", CategoryJwks},
	JWKSParseFailed:           {"jwks_parse_failed", CategoryJwks},
	JWKSFileReadFailed:        {"jwks_file_read_failed", CategoryJwks},
	KeyRotationDetected:       {"key_rotation_detected", CategoryJwks},
	AccessTokenCreated:        {"access_token_created", CategorySuccess},
	IDTokenCreated:            {"id_token_created", CategorySuccess},
	RefreshTokenCreated:       {"refresh_token_created", CategorySuccess},
}

// EventTypes returns every defined event type in declaration order.
func EventTypes() []EventType {
	out := make([]EventType, 0, eventTypeCount)
	for e := EventType(0); e < eventTypeCount; e++ {
		out = append(out, e)
	}
	return out
}

func (e EventType) valid() bool {
	return e >= 0 && e < eventTypeCount
}

func (e EventType) String() string {
	if !e.valid() {
		return "unknown"
	}
	return eventInfos[e].name
}

// Category reports which group the event belongs to.
func (e EventType) Category() Category {
	if !e.valid() {
		return CategoryInvalidStructure
	}
	return eventInfos[e].category
}

// IsFailure reports whether the event marks a rejected token.
func (e EventType) IsFailure() bool {
	switch e.Category() {
	case CategoryInvalidStructure, CategoryInvalidSignature, CategorySemanticIssues:
		return true
	default:
		return false
	}
}
