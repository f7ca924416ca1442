package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/quotagate/quotagate"
	"github.com/quotagate/quotagate/metrics"
)

// scriptedChecker replays a fixed sequence of decisions.
type scriptedChecker struct {
	decisions []quotagate.Decision
	err       error
	calls     int
}

func (s *scriptedChecker) Check(context.Context, quotagate.ClientIdentifier, string, quotagate.KeyType) (*quotagate.Decision, error) {
	d := s.decisions[s.calls%len(s.decisions)]
	s.calls++
	return &d, s.err
}

func TestWrapAllowedAndDenied(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.WithRegistry(reg))

	checker := &scriptedChecker{decisions: []quotagate.Decision{
		{Allowed: true, Algorithm: quotagate.AlgoFixedWindow},
		{Allowed: true, Algorithm: quotagate.AlgoFixedWindow},
		{Allowed: false, Algorithm: quotagate.AlgoFixedWindow},
	}}
	wrapped := metrics.Wrap(checker, collector)
	ctx := context.Background()
	client := quotagate.ClientIdentifier{IPAddress: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		if _, err := wrapped.Check(ctx, client, "api", quotagate.KeyByIPAddress); err != nil {
			t.Fatal(err)
		}
	}

	assertCounter(t, reg, "ratelimit_requests_total", map[string]string{
		"algorithm": "fixed_window", "decision": "allowed",
	}, 2)
	assertCounter(t, reg, "ratelimit_requests_total", map[string]string{
		"algorithm": "fixed_window", "decision": "denied",
	}, 1)
	assertHistogramCount(t, reg, "ratelimit_request_duration_seconds", map[string]string{
		"algorithm": "fixed_window",
	}, 3)
	assertCounter(t, reg, "ratelimit_errors_total", map[string]string{
		"algorithm": "fixed_window",
	}, 0)
}

func TestWrapErrorCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.WithRegistry(reg))

	// Fail-open: the checker reports the error alongside the admission.
	checker := &scriptedChecker{
		decisions: []quotagate.Decision{{Allowed: true, Algorithm: quotagate.AlgoNone}},
		err:       errors.New("store down"),
	}
	wrapped := metrics.Wrap(checker, collector)

	decision, err := wrapped.Check(context.Background(), quotagate.ClientIdentifier{}, "api", quotagate.KeyByIPAddress)
	if err == nil {
		t.Fatal("expected error to pass through")
	}
	if decision == nil || !decision.Allowed {
		t.Fatal("fail-open decision must pass through")
	}

	assertCounter(t, reg, "ratelimit_errors_total", map[string]string{
		"algorithm": "none",
	}, 1)
	assertCounter(t, reg, "ratelimit_requests_total", map[string]string{
		"algorithm": "none", "decision": "allowed",
	}, 1)
}

func TestCollectorOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(
		metrics.WithRegistry(reg),
		metrics.WithNamespace("myapp"),
		metrics.WithSubsystem("api"),
		metrics.WithBuckets([]float64{.001, .01, .1}),
	)

	checker := &scriptedChecker{decisions: []quotagate.Decision{
		{Allowed: true, Algorithm: quotagate.AlgoTokenBucket},
	}}
	wrapped := metrics.Wrap(checker, collector)

	if _, err := wrapped.Check(context.Background(), quotagate.ClientIdentifier{}, "api", quotagate.KeyByIPAddress); err != nil {
		t.Fatal(err)
	}

	assertCounter(t, reg, "myapp_api_requests_total", map[string]string{
		"algorithm": "token_bucket", "decision": "allowed",
	}, 1)
	assertHistogramCount(t, reg, "myapp_api_request_duration_seconds", map[string]string{
		"algorithm": "token_bucket",
	}, 1)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func assertCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string, want float64) {
	t.Helper()
	val := gatherMetricValue(t, reg, name, labels, func(m *dto.Metric) float64 {
		return m.GetCounter().GetValue()
	})
	if val != want {
		t.Errorf("%s%v = %v, want %v", name, labels, val, want)
	}
}

func assertHistogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string, want uint64) {
	t.Helper()
	val := gatherMetricValue(t, reg, name, labels, func(m *dto.Metric) float64 {
		return float64(m.GetHistogram().GetSampleCount())
	})
	if uint64(val) != want {
		t.Errorf("%s%v sample_count = %v, want %v", name, labels, uint64(val), want)
	}
}

func gatherMetricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string, extract func(*dto.Metric) float64) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return extract(m)
			}
		}
	}
	if len(labels) > 0 {
		return 0
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	pairs := m.GetLabel()
	if len(pairs) < len(want) {
		return false
	}
	for _, lp := range pairs {
		if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
			return false
		}
	}
	return true
}
