package quotagate_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quotagate/quotagate"
	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
	"github.com/quotagate/quotagate/store/memory"
)

// newTestLimiter wires a limiter over the in-memory store with a mock clock
// so scenarios can advance time without sleeping.
func newTestLimiter(t *testing.T, mock *clock.Mock, rules ...quotagate.Rule) *quotagate.Limiter {
	t.Helper()

	st := memory.New(memory.WithClock(mock))
	t.Cleanup(func() { st.Close() })

	registry := quotagate.NewRegistry()
	for _, rule := range rules {
		if err := registry.Add(rule); err != nil {
			t.Fatalf("add rule: %v", err)
		}
	}
	return quotagate.New(registry, st, quotagate.WithClock(mock))
}

func TestCheckNoRuleAllows(t *testing.T) {
	limiter := newTestLimiter(t, clock.NewMock())
	client := quotagate.ClientIdentifier{IPAddress: "10.0.0.1"}

	decision, err := limiter.Check(context.Background(), client, "api", quotagate.KeyByIPAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected admission when no rule matches")
	}
	if decision.Algorithm != quotagate.AlgoNone {
		t.Errorf("got algorithm %s, want %s", decision.Algorithm, quotagate.AlgoNone)
	}
}

func TestCheckFailsOpenOnStoreError(t *testing.T) {
	registry := quotagate.NewRegistry()
	err := registry.Add(quotagate.Rule{
		Domain: "api", KeyType: quotagate.KeyByIPAddress,
		Quota: 5, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoTokenBucket,
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	limiter := quotagate.New(registry, failingStore{})
	client := quotagate.ClientIdentifier{IPAddress: "10.0.0.1"}

	decision, err := limiter.Check(context.Background(), client, "api", quotagate.KeyByIPAddress)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if decision == nil || !decision.Allowed {
		t.Errorf("store failure must admit the request")
	}
	if decision.Algorithm != quotagate.AlgoNone {
		t.Errorf("got algorithm %s, want %s", decision.Algorithm, quotagate.AlgoNone)
	}
}

func TestCheckIsolatesClients(t *testing.T) {
	mock := clock.NewMock()
	limiter := newTestLimiter(t, mock, quotagate.Rule{
		Domain: "api", KeyType: quotagate.KeyByIPAddress,
		Quota: 2, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoFixedWindow,
	})
	ctx := context.Background()

	first := quotagate.ClientIdentifier{IPAddress: "10.0.0.1"}
	second := quotagate.ClientIdentifier{IPAddress: "10.0.0.2"}

	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, first, "api", quotagate.KeyByIPAddress)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d for first client should be allowed", i+1)
		}
	}

	decision, err := limiter.Check(ctx, first, "api", quotagate.KeyByIPAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Errorf("first client should be over quota")
	}

	decision, err = limiter.Check(ctx, second, "api", quotagate.KeyByIPAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("second client must not be affected by the first client's quota")
	}
}

func TestCheckAppliesReplacedRule(t *testing.T) {
	mock := clock.NewMockAt(time.Unix(1_700_000_000, 0))
	st := memory.New(memory.WithClock(mock))
	t.Cleanup(func() { st.Close() })

	registry := quotagate.NewRegistry()
	err := registry.Add(quotagate.Rule{
		Domain: "api", KeyType: quotagate.KeyByIPAddress,
		Quota: 10, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoFixedWindow,
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	limiter := quotagate.New(registry, st, quotagate.WithClock(mock))
	client := quotagate.ClientIdentifier{IPAddress: "10.0.0.1"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, client, "api", quotagate.KeyByIPAddress)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be under the original quota", i+1)
		}
	}

	// Tighten the quota below the traffic already admitted; the next
	// decision must use the replacement.
	err = registry.Add(quotagate.Rule{
		Domain: "api", KeyType: quotagate.KeyByIPAddress,
		Quota: 2, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoFixedWindow,
	})
	if err != nil {
		t.Fatalf("replace rule: %v", err)
	}

	decision, err := limiter.Check(ctx, client, "api", quotagate.KeyByIPAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Errorf("request should be rejected under the tightened quota")
	}
	if decision.Limit != 2 {
		t.Errorf("got limit %d, want 2", decision.Limit)
	}
	if decision.Remaining != 0 {
		t.Errorf("got remaining %d, want 0", decision.Remaining)
	}
}

func TestCheckResumesLimitingAfterStoreRecovery(t *testing.T) {
	mock := clock.NewMockAt(time.Unix(1_700_000_000, 0))
	st := memory.New(memory.WithClock(mock))
	t.Cleanup(func() { st.Close() })
	flaky := &flakyStore{inner: st}

	registry := quotagate.NewRegistry()
	err := registry.Add(quotagate.Rule{
		Domain: "api", KeyType: quotagate.KeyByIPAddress,
		Quota: 2, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoFixedWindow,
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	limiter := quotagate.New(registry, flaky, quotagate.WithClock(mock))
	client := quotagate.ClientIdentifier{IPAddress: "10.0.0.1"}
	ctx := context.Background()

	flaky.down = true
	for i := 0; i < 5; i++ {
		decision, err := limiter.Check(ctx, client, "api", quotagate.KeyByIPAddress)
		if !errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable while the store is down, got %v", err)
		}
		if decision == nil || !decision.Allowed {
			t.Fatalf("request %d must be admitted while the store is down", i+1)
		}
	}

	flaky.down = false
	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, client, "api", quotagate.KeyByIPAddress)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be under quota after recovery", i+1)
		}
	}

	decision, err := limiter.Check(ctx, client, "api", quotagate.KeyByIPAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Errorf("quota must be enforced again once the store recovers")
	}
}

// ─── Failing store stub ──────────────────────────────────────────────────────

type failingStore struct{}

func (failingStore) fail() error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (f failingStore) IncrWithLimit(context.Context, string, int64, time.Duration) (store.IncrResult, error) {
	return store.IncrResult{}, f.fail()
}

func (f failingStore) TokenBucketTake(context.Context, string, int64, float64, float64) (store.BucketResult, error) {
	return store.BucketResult{}, f.fail()
}

func (f failingStore) LeakyBucketTake(context.Context, string, int64, float64, float64, time.Duration) (store.BucketResult, error) {
	return store.BucketResult{}, f.fail()
}

func (f failingStore) Get(context.Context, string) (string, error)   { return "", f.fail() }
func (f failingStore) Incr(context.Context, string) (int64, error)   { return 0, f.fail() }
func (f failingStore) Expire(context.Context, string, time.Duration) error { return f.fail() }
func (f failingStore) TTL(context.Context, string) (time.Duration, error) { return 0, f.fail() }
func (f failingStore) Del(context.Context, ...string) error               { return f.fail() }
func (f failingStore) ZAdd(context.Context, string, float64, string) error { return f.fail() }
func (f failingStore) ZRemRangeByScore(context.Context, string, float64, float64) error {
	return f.fail()
}
func (f failingStore) ZCard(context.Context, string) (int64, error) { return 0, f.fail() }
func (failingStore) Close() error                                   { return nil }

// ─── Flaky store stub ────────────────────────────────────────────────────────

// flakyStore delegates to a real store but refuses every operation while
// down is set.
type flakyStore struct {
	inner store.Store
	down  bool
}

func (f *flakyStore) fail() error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (f *flakyStore) IncrWithLimit(ctx context.Context, key string, limit int64, window time.Duration) (store.IncrResult, error) {
	if f.down {
		return store.IncrResult{}, f.fail()
	}
	return f.inner.IncrWithLimit(ctx, key, limit, window)
}

func (f *flakyStore) TokenBucketTake(ctx context.Context, key string, capacity int64, refillRate, now float64) (store.BucketResult, error) {
	if f.down {
		return store.BucketResult{}, f.fail()
	}
	return f.inner.TokenBucketTake(ctx, key, capacity, refillRate, now)
}

func (f *flakyStore) LeakyBucketTake(ctx context.Context, key string, capacity int64, outflowRate, now float64, window time.Duration) (store.BucketResult, error) {
	if f.down {
		return store.BucketResult{}, f.fail()
	}
	return f.inner.LeakyBucketTake(ctx, key, capacity, outflowRate, now, window)
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if f.down {
		return "", f.fail()
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Incr(ctx context.Context, key string) (int64, error) {
	if f.down {
		return 0, f.fail()
	}
	return f.inner.Incr(ctx, key)
}

func (f *flakyStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.down {
		return f.fail()
	}
	return f.inner.Expire(ctx, key, ttl)
}

func (f *flakyStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if f.down {
		return 0, f.fail()
	}
	return f.inner.TTL(ctx, key)
}

func (f *flakyStore) Del(ctx context.Context, keys ...string) error {
	if f.down {
		return f.fail()
	}
	return f.inner.Del(ctx, keys...)
}

func (f *flakyStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if f.down {
		return f.fail()
	}
	return f.inner.ZAdd(ctx, key, score, member)
}

func (f *flakyStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	if f.down {
		return f.fail()
	}
	return f.inner.ZRemRangeByScore(ctx, key, min, max)
}

func (f *flakyStore) ZCard(ctx context.Context, key string) (int64, error) {
	if f.down {
		return 0, f.fail()
	}
	return f.inner.ZCard(ctx, key)
}

func (f *flakyStore) Close() error { return f.inner.Close() }
