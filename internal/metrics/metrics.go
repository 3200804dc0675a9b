package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "jwtguard"

var (
	HTTPValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_validations_total",
			Help:      "Total number of tokens validated over HTTP, labeled by token type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	HTTPValidationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_validation_latency_seconds",
			Help:      "Latency of HTTP token validation requests (seconds).",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPValidationsTotal,
		HTTPValidationLatencySeconds,
	)
}
