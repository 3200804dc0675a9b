package validator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

const tracerName = "jwtguard/validator"

type options struct {
	parser   token.ParserConfig
	monitor  MonitorConfig
	counter  *security.Counter
	logger   *slog.Logger
	provider trace.TracerProvider
	now      func() time.Time
}

// Option customizes a TokenValidator.
type Option func(*options)

func WithParserConfig(cfg token.ParserConfig) Option {
	return func(o *options) { o.parser = cfg }
}

func WithMonitorConfig(cfg MonitorConfig) Option {
	return func(o *options) { o.monitor = cfg }
}

// WithCounter shares an existing counter, e.g. one exported as metrics.
func WithCounter(c *security.Counter) Option {
	return func(o *options) { o.counter = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider overrides the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.provider = tp }
}

// WithClock replaces time.Now for claim time checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// TokenValidator is the entry point for validating tokens. It is safe for
// concurrent use; each call runs entirely on the caller goroutine.
type TokenValidator struct {
	parser    *token.Parser
	resolver  *IssuerConfigResolver
	header    HeaderValidator
	signature SignatureValidator
	claims    ClaimValidator
	counter   *security.Counter
	monitor   *Monitor
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New builds a validator over the given issuer configs. Construction fails
// on duplicate or missing issuers.
func New(configs []*IssuerConfig, opts ...Option) (*TokenValidator, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.counter == nil {
		o.counter = security.NewCounter()
	}
	if o.provider == nil {
		o.provider = otel.GetTracerProvider()
	}

	resolver, err := NewIssuerConfigResolver(configs, o.counter, o.logger)
	if err != nil {
		return nil, err
	}
	monitor := NewMonitor(o.monitor)
	return &TokenValidator{
		parser:    token.NewParser(o.parser),
		resolver:  resolver,
		signature: SignatureValidator{monitor: monitor},
		claims:    ClaimValidator{now: o.now},
		counter:   o.counter,
		monitor:   monitor,
		logger:    o.logger,
		tracer:    o.provider.Tracer(tracerName),
	}, nil
}

func (v *TokenValidator) CreateAccessToken(ctx context.Context, raw string) (*token.AccessTokenContent, error) {
	var out *token.AccessTokenContent
	err := v.validate(ctx, token.TypeAccess, raw, func(claims token.Claims) {
		out = token.NewAccessTokenContent(raw, claims)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (v *TokenValidator) CreateIDToken(ctx context.Context, raw string) (*token.IDTokenContent, error) {
	var out *token.IDTokenContent
	err := v.validate(ctx, token.TypeID, raw, func(claims token.Claims) {
		out = token.NewIDTokenContent(raw, claims)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (v *TokenValidator) CreateRefreshToken(ctx context.Context, raw string) (*token.RefreshTokenContent, error) {
	var out *token.RefreshTokenContent
	err := v.validate(ctx, token.TypeRefresh, raw, func(claims token.Claims) {
		out = token.NewRefreshTokenContent(raw, claims)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Validate runs the pipeline for t and returns the generic content view.
func (v *TokenValidator) Validate(ctx context.Context, t token.Type, raw string) (*token.Content, error) {
	switch t {
	case token.TypeAccess:
		c, err := v.CreateAccessToken(ctx, raw)
		if err != nil {
			return nil, err
		}
		return &c.Content, nil
	case token.TypeID:
		c, err := v.CreateIDToken(ctx, raw)
		if err != nil {
			return nil, err
		}
		return &c.Content, nil
	case token.TypeRefresh:
		c, err := v.CreateRefreshToken(ctx, raw)
		if err != nil {
			return nil, err
		}
		return &c.Content, nil
	default:
		return nil, errors.New("unknown token type")
	}
}

// validate runs every stage in order and stops at the first failure. Stage
// timings are recorded up to and including the failing stage; build is only
// called once every check passed.
func (v *TokenValidator) validate(ctx context.Context, t token.Type, raw string, build func(token.Claims)) error {
	ctx, span := v.tracer.Start(ctx, "validate "+t.String()+" token",
		trace.WithAttributes(attribute.String("jwtguard.token_type", t.String())))
	defer span.End()
	start := time.Now()

	var decoded *token.DecodedJWT
	err := v.stage(TokenParsing, func() (err error) {
		decoded, err = v.parser.Decode(raw)
		return err
	})
	if err != nil {
		return v.fail(ctx, span, t, err)
	}

	var issuer string
	err = v.stage(IssuerExtraction, func() error {
		iss, ok := decoded.Issuer()
		if !ok {
			return token.NewValidationError(security.MissingClaim, "missing mandatory claim %q", token.ClaimIssuer)
		}
		issuer = iss
		return nil
	})
	if err != nil {
		return v.fail(ctx, span, t, err)
	}
	span.SetAttributes(attribute.String("jwtguard.issuer", issuer))

	var cfg *IssuerConfig
	err = v.stage(IssuerConfigResolution, func() (err error) {
		cfg, err = v.resolver.Resolve(issuer)
		return err
	})
	if err != nil {
		return v.fail(ctx, span, t, err)
	}

	if err := v.stage(HeaderValidation, func() error {
		return v.header.Validate(decoded.Header, cfg)
	}); err != nil {
		return v.fail(ctx, span, t, err)
	}

	if err := v.stage(SignatureValidation, func() error {
		return v.signature.Validate(ctx, decoded, cfg)
	}); err != nil {
		return v.fail(ctx, span, t, err)
	}

	if err := v.stage(ClaimsValidation, func() error {
		if err := v.claims.ValidateMandatory(t, decoded.Claims, cfg); err != nil {
			return err
		}
		return v.claims.Validate(t, decoded.Claims, cfg)
	}); err != nil {
		return v.fail(ctx, span, t, err)
	}

	_ = v.stage(TokenBuilding, func() error {
		build(decoded.Claims)
		return nil
	})

	v.monitor.Record(CompleteValidation, time.Since(start))
	v.counter.Increment(successEvent(t))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (v *TokenValidator) stage(m MeasurementType, fn func() error) error {
	start := time.Now()
	err := fn()
	v.monitor.Record(m, time.Since(start))
	return err
}

// fail counts err exactly once and annotates the span. Messages never carry
// token content, so they are safe to log.
func (v *TokenValidator) fail(ctx context.Context, span trace.Span, t token.Type, err error) error {
	event, ok := token.EventOf(err)
	if !ok {
		event = security.InvalidJWTFormat
		err = token.NewValidationError(event, "%v", err)
	}
	v.counter.Increment(event)
	span.SetAttributes(
		attribute.String("jwtguard.event", event.String()),
		attribute.String("jwtguard.category", event.Category().String()),
	)
	span.SetStatus(codes.Error, event.String())
	v.logger.DebugContext(ctx, "token validation failed",
		"type", t.String(), "event", event.String(), "category", event.Category().String(), "err", err)
	return err
}

func successEvent(t token.Type) security.EventType {
	switch t {
	case token.TypeID:
		return security.IDTokenCreated
	case token.TypeRefresh:
		return security.RefreshTokenCreated
	default:
		return security.AccessTokenCreated
	}
}

func (v *TokenValidator) Counter() *security.Counter { return v.counter }

func (v *TokenValidator) Monitor() *Monitor { return v.monitor }

// Issuers returns every enabled issuer config.
func (v *TokenValidator) Issuers() []*IssuerConfig { return v.resolver.Configs() }

// ParserConfig returns the effective parser limits.
func (v *TokenValidator) ParserConfig() token.ParserConfig { return v.parser.Config() }

// Close stops background work of every loader.
func (v *TokenValidator) Close() error {
	return v.resolver.Close()
}
