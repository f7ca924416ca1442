package quotagate_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/quotagate/quotagate"
)

func TestRegistryAddAndGet(t *testing.T) {
	registry := quotagate.NewRegistry()

	rule := quotagate.Rule{
		Domain:    "auth",
		KeyType:   quotagate.KeyByUserID,
		Quota:     5,
		Unit:      quotagate.UnitMinute,
		Algorithm: quotagate.AlgoSlidingWindowCounter,
	}
	if err := registry.Add(rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := registry.Get("auth", quotagate.KeyByUserID)
	if !ok {
		t.Fatalf("expected rule to be found")
	}
	if got != rule {
		t.Errorf("got %+v, want %+v", got, rule)
	}

	if _, ok := registry.Get("auth", quotagate.KeyByIPAddress); ok {
		t.Errorf("expected no rule for different key type")
	}
	if _, ok := registry.Get("payments", quotagate.KeyByUserID); ok {
		t.Errorf("expected no rule for unknown domain")
	}
}

func TestRegistryAddReplaces(t *testing.T) {
	registry := quotagate.NewRegistry()

	first := quotagate.Rule{
		Domain: "api", KeyType: quotagate.KeyByIPAddress,
		Quota: 100, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoTokenBucket,
	}
	second := first
	second.Quota = 50
	second.Algorithm = quotagate.AlgoFixedWindow

	if err := registry.Add(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Add(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := registry.Get("api", quotagate.KeyByIPAddress)
	if got != second {
		t.Errorf("got %+v, want replacement %+v", got, second)
	}
	if registry.Len() != 1 {
		t.Errorf("got %d rules, want 1", registry.Len())
	}
}

func TestRegistryAddInvalidLeavesRegistryUnchanged(t *testing.T) {
	registry := quotagate.NewRegistry()

	bad := quotagate.Rule{Domain: "api", KeyType: quotagate.KeyByIPAddress}
	if err := registry.Add(bad); !errors.Is(err, quotagate.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if registry.Len() != 0 {
		t.Errorf("invalid rule must not be stored")
	}
}

func TestRegistryListSorted(t *testing.T) {
	registry := quotagate.NewRegistry()
	for _, domain := range []string{"messaging", "api", "auth"} {
		err := registry.Add(quotagate.Rule{
			Domain: domain, KeyType: quotagate.KeyByUserID,
			Quota: 5, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoTokenBucket,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rules := registry.List()
	want := []string{"api", "auth", "messaging"}
	for i, domain := range want {
		if rules[i].Domain != domain {
			t.Errorf("position %d: got %s, want %s", i, rules[i].Domain, domain)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := quotagate.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = registry.Add(quotagate.Rule{
				Domain: fmt.Sprintf("domain%d", i), KeyType: quotagate.KeyByUserID,
				Quota: 5, Unit: quotagate.UnitMinute, Algorithm: quotagate.AlgoTokenBucket,
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			registry.Get(fmt.Sprintf("domain%d", i), quotagate.KeyByUserID)
		}(i)
	}
	wg.Wait()

	if registry.Len() != 10 {
		t.Errorf("got %d rules, want 10", registry.Len())
	}
}
