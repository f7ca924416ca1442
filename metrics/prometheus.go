// Package metrics provides Prometheus instrumentation for rate limit checks.
//
// Wrap any quotagate.Checker to automatically record decision counts,
// latency, and store errors:
//
//	collector := metrics.NewCollector()
//	checker := metrics.Wrap(limiter, collector)
//
// All metrics are partitioned by algorithm name. Decision counts carry an
// additional "decision" label (allowed / denied).
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quotagate/quotagate"
)

// Collector holds Prometheus metric vectors for rate limiter instrumentation.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

type collectorConfig struct {
	namespace string
	subsystem string
	registry  prometheus.Registerer
	buckets   []float64
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

// WithNamespace sets the Prometheus metric namespace (prefix).
func WithNamespace(ns string) CollectorOption {
	return func(c *collectorConfig) { c.namespace = ns }
}

// WithSubsystem sets the Prometheus metric subsystem.
func WithSubsystem(sub string) CollectorOption {
	return func(c *collectorConfig) { c.subsystem = sub }
}

// WithRegistry registers metrics with the given Registerer instead of
// prometheus.DefaultRegisterer.
func WithRegistry(r prometheus.Registerer) CollectorOption {
	return func(c *collectorConfig) { c.registry = r }
}

// WithBuckets sets custom histogram buckets for check duration.
func WithBuckets(b []float64) CollectorOption {
	return func(c *collectorConfig) { c.buckets = b }
}

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// NewCollector creates a Collector and registers its metrics.
//
// Metrics registered:
//   - {namespace}_requests_total             counter   (algorithm, decision)
//   - {namespace}_request_duration_seconds   histogram (algorithm)
//   - {namespace}_errors_total               counter   (algorithm)
//
// Default namespace is "ratelimit".
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := &collectorConfig{
		namespace: "ratelimit",
		registry:  prometheus.DefaultRegisterer,
		buckets:   defaultBuckets,
	}
	for _, o := range opts {
		o(cfg)
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "requests_total",
		Help:      "Total rate limit checks partitioned by algorithm and decision.",
	}, []string{"algorithm", "decision"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "request_duration_seconds",
		Help:      "Latency of rate limit Check calls in seconds.",
		Buckets:   cfg.buckets,
	}, []string{"algorithm"})

	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "errors_total",
		Help:      "Total rate limiter store errors.",
	}, []string{"algorithm"})

	cfg.registry.MustRegister(requests, duration, errors)

	return &Collector{
		requests: requests,
		duration: duration,
		errors:   errors,
	}
}

// Wrap returns a Checker that transparently records Prometheus metrics
// for every Check delegated to inner.
func Wrap(inner quotagate.Checker, c *Collector) quotagate.Checker {
	return &instrumentedChecker{
		inner:     inner,
		collector: c,
	}
}

type instrumentedChecker struct {
	inner     quotagate.Checker
	collector *Collector
}

func (m *instrumentedChecker) Check(ctx context.Context, client quotagate.ClientIdentifier, domain string, keyType quotagate.KeyType) (*quotagate.Decision, error) {
	start := time.Now()
	decision, err := m.inner.Check(ctx, client, domain, keyType)

	algorithm := string(quotagate.AlgoNone)
	if decision != nil {
		algorithm = string(decision.Algorithm)
	}
	m.collector.duration.WithLabelValues(algorithm).Observe(time.Since(start).Seconds())

	if err != nil {
		m.collector.errors.WithLabelValues(algorithm).Inc()
	}
	if decision != nil {
		verdict := "denied"
		if decision.Allowed {
			verdict = "allowed"
		}
		m.collector.requests.WithLabelValues(algorithm, verdict).Inc()
	}
	return decision, err
}
