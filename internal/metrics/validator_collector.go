package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

// validatorCollector exports the validator's own state at scrape time:
// security event counts, stage latency windows and loader status.
type validatorCollector struct {
	v      *validator.TokenValidator
	rdb    *redis.Client
	logger *slog.Logger

	eventsDesc       *prometheus.Desc
	stageCountDesc   *prometheus.Desc
	stageLatencyDesc *prometheus.Desc
	loaderStatusDesc *prometheus.Desc
	loaderKeysDesc   *prometheus.Desc
	storedDocsDesc   *prometheus.Desc
}

func newValidatorCollector(v *validator.TokenValidator, rdb *redis.Client, logger *slog.Logger) *validatorCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &validatorCollector{
		v:      v,
		rdb:    rdb,
		logger: logger,
		eventsDesc: prometheus.NewDesc(
			"jwtguard_security_events_total",
			"Security events observed by the validator, by event and category.",
			[]string{"event", "category"},
			nil,
		),
		stageCountDesc: prometheus.NewDesc(
			"jwtguard_stage_measurements_total",
			"Number of timings recorded per validation stage.",
			[]string{"stage"},
			nil,
		),
		stageLatencyDesc: prometheus.NewDesc(
			"jwtguard_stage_latency_seconds",
			"Stage latency over the recent sample window, by quantile.",
			[]string{"stage", "quantile"},
			nil,
		),
		loaderStatusDesc: prometheus.NewDesc(
			"jwtguard_jwks_loader_status",
			"JWKS loader status per issuer: 1 for the current status label.",
			[]string{"issuer", "type", "status"},
			nil,
		),
		loaderKeysDesc: prometheus.NewDesc(
			"jwtguard_jwks_keys",
			"Number of keys currently cached per issuer.",
			[]string{"issuer"},
			nil,
		),
		storedDocsDesc: prometheus.NewDesc(
			"jwtguard_jwks_stored_documents",
			"Number of last-good JWKS documents held in Redis.",
			nil,
			nil,
		),
	}
}

func (c *validatorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsDesc
	ch <- c.stageCountDesc
	ch <- c.stageLatencyDesc
	ch <- c.loaderStatusDesc
	ch <- c.loaderKeysDesc
	ch <- c.storedDocsDesc
}

func (c *validatorCollector) Collect(ch chan<- prometheus.Metric) {
	if c.v == nil {
		return
	}

	counter := c.v.Counter()
	for _, e := range security.EventTypes() {
		emit(ch, c.eventsDesc, prometheus.CounterValue, float64(counter.Count(e)), e.String(), e.Category().String())
	}

	for _, st := range c.v.Monitor().AllStats() {
		stage := st.Type.String()
		emit(ch, c.stageCountDesc, prometheus.CounterValue, float64(st.Count), stage)
		emit(ch, c.stageLatencyDesc, prometheus.GaugeValue, st.P50.Seconds(), stage, "0.5")
		emit(ch, c.stageLatencyDesc, prometheus.GaugeValue, st.P95.Seconds(), stage, "0.95")
		emit(ch, c.stageLatencyDesc, prometheus.GaugeValue, st.P99.Seconds(), stage, "0.99")
	}

	// Keep loader reads non-blocking so scrapes never trigger a fetch.
	for _, cfg := range c.v.Issuers() {
		loader := cfg.Loader()
		current := loader.CurrentStatus()
		for _, s := range []jwks.Status{jwks.StatusUndefined, jwks.StatusOK, jwks.StatusError} {
			val := 0.0
			if s == current {
				val = 1
			}
			emit(ch, c.loaderStatusDesc, prometheus.GaugeValue, val, cfg.Issuer(), loader.Type().String(), s.String())
		}
		if current == jwks.StatusOK {
			emit(ch, c.loaderKeysDesc, prometheus.GaugeValue, float64(len(loader.Keys(context.Background()))), cfg.Issuer())
		}
	}

	c.collectStore(ch)
}

func (c *validatorCollector) collectStore(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, jwks.RedisKeyPrefix+"*", 100).Result()
		if err != nil {
			c.logger.Warn("prometheus jwks store collector failed", "err", err)
			return
		}
		total += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	emit(ch, c.storedDocsDesc, prometheus.GaugeValue, float64(total))
}

func emit(ch chan<- prometheus.Metric, desc *prometheus.Desc, kind prometheus.ValueType, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, kind, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerValidatorCollectorOnce sync.Once

// RegisterValidatorCollector registers the collector with the default
// registry. rdb may be nil when no Redis store is configured.
func RegisterValidatorCollector(v *validator.TokenValidator, rdb *redis.Client, logger *slog.Logger) {
	registerValidatorCollectorOnce.Do(func() {
		prometheus.MustRegister(newValidatorCollector(v, rdb, logger))
	})
}
