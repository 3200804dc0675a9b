package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSanitizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"localhost:4317", "localhost:4317"},
		{"http://collector:4317", "collector:4317"},
		{"https://collector.example.com:4317/", "collector.example.com:4317"},
		{"collector:4317/", "collector:4317"},
	}
	for _, tt := range tests {
		if got := sanitizeEndpoint(tt.in); got != tt.want {
			t.Errorf("sanitizeEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetupDisabledKeepsTraceContext(t *testing.T) {
	tr, err := Setup(context.Background(), Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer tr.Shutdown(context.Background())

	_, span := tr.Provider.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("disabled provider must not create recording spans")
	}
	span.End()

	h := http.Header{}
	h.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.Set("baggage", "user=alice")
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(h))

	out := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out))
	if out.Get("traceparent") == "" {
		t.Fatal("traceparent not propagated")
	}
	if out.Get("baggage") != "" {
		t.Fatal("baggage must not be propagated")
	}
}

func TestSamplerDropsUntracedPaths(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(NewSampler(1, DefaultUntracedPaths)),
		sdktrace.WithSpanProcessor(rec),
	)
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer("test")

	tests := []struct {
		name    string
		kind    trace.SpanKind
		path    string
		sampled bool
	}{
		{"health check", trace.SpanKindServer, "/healthz", false},
		{"metrics scrape", trace.SpanKindServer, "/metrics", false},
		{"validate", trace.SpanKindServer, "/v1/tokens/access/validate", true},
		{"internal span with health path", trace.SpanKindInternal, "/healthz", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, span := tracer.Start(context.Background(), tt.name,
				trace.WithSpanKind(tt.kind),
				trace.WithAttributes(PathKey.String(tt.path)),
			)
			span.End()
			if got := span.SpanContext().IsSampled(); got != tt.sampled {
				t.Fatalf("sampled = %v, want %v", got, tt.sampled)
			}
		})
	}
	if got := len(rec.Ended()); got != 2 {
		t.Fatalf("expected 2 exported spans, got %d", got)
	}
}

func TestSamplerRatioBounds(t *testing.T) {
	for _, ratio := range []float64{0, -1, 2} {
		s := NewSampler(ratio, nil)
		res := s.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			Name:          "x",
		})
		if res.Decision != sdktrace.RecordAndSample {
			t.Fatalf("ratio %v should fall back to always sample", ratio)
		}
	}
}
