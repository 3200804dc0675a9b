package tracing

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"
)

const (
	DefaultServiceName = "jwtguard"
	DefaultEndpoint    = "localhost:4317"

	// PathKey carries the raw request path on server spans. The sampler
	// reads it at span start, before the route is known.
	PathKey = attribute.Key("http.path")
)

// DefaultUntracedPaths are health check and scrape endpoints hit on a fixed
// schedule; tracing them only adds noise.
var DefaultUntracedPaths = []string{"/healthz", "/metrics"}

type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	// UntracedPaths drops server spans for these exact request paths.
	UntracedPaths []string
}

// Tracing holds the provider handed to the validator and the HTTP
// middleware. Provider is a no-op when export is disabled or unavailable.
type Tracing struct {
	Provider trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// Setup never fails the process: exporter problems degrade to a no-op
// provider. Inbound traceparent headers are honoured either way.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Tracing, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagator())
	disabled := &Tracing{Provider: noop.NewTracerProvider()}
	if !cfg.Enabled {
		return disabled, nil
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	endpoint := sanitizeEndpoint(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otlp exporter unavailable, spans are not exported", "endpoint", endpoint, "err", err)
		return disabled, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.SampleRatio, cfg.UntracedPaths)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("span export enabled", "service", serviceName, "endpoint", endpoint, "untraced_paths", cfg.UntracedPaths)
	return &Tracing{Provider: tp, shutdown: tp.Shutdown}, nil
}

// NewSampler drops server spans whose PathKey is in untraced and samples
// the rest by trace id ratio, following a sampled parent.
func NewSampler(ratio float64, untraced []string) sdktrace.Sampler {
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	s := pathSampler{
		skip: make(map[string]struct{}, len(untraced)),
		next: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)),
	}
	for _, p := range untraced {
		s.skip[p] = struct{}{}
	}
	return s
}

type pathSampler struct {
	skip map[string]struct{}
	next sdktrace.Sampler
}

func (s pathSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if p.Kind == trace.SpanKindServer && len(s.skip) > 0 {
		for _, kv := range p.Attributes {
			if kv.Key != PathKey {
				continue
			}
			if _, ok := s.skip[kv.Value.AsString()]; ok {
				return sdktrace.SamplingResult{
					Decision:   sdktrace.Drop,
					Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
				}
			}
		}
	}
	return s.next.ShouldSample(p)
}

func (s pathSampler) Description() string {
	return "PathFilter{" + s.next.Description() + "}"
}

// Baggage is not propagated; claims must never leave the process as trace
// metadata.
func propagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// sanitizeEndpoint turns a URL-style OTLP endpoint into the host:port the
// gRPC exporter expects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}
