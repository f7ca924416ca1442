package quotagate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// slidingWindowCounter approximates a rolling window with two fixed
// counters, weighting the previous window by its remaining overlap:
//
//	estimate = current + previous × (1 − progress)
//
// O(1) memory per key at the cost of assuming uniform distribution within
// the previous window.
type slidingWindowCounter struct {
	store store.Store
	clock clock.Clock
}

func (s *slidingWindowCounter) Decide(ctx context.Context, client ClientIdentifier, rule Rule) (*Decision, error) {
	windowSecs := rule.WindowSeconds()
	now := epochSeconds(s.clock.Now())

	currentStart := int64(now) / windowSecs * windowSecs
	previousStart := currentStart - windowSecs
	progress := (now - float64(currentStart)) / float64(windowSecs)
	previousWeight := 1 - progress

	base := client.Key(rule)
	currentKey := fmt.Sprintf("%s:window:%d", base, currentStart)
	previousKey := fmt.Sprintf("%s:window:%d", base, previousStart)

	currentCount, err := s.counter(ctx, currentKey)
	if err != nil {
		return nil, err
	}
	previousCount, err := s.counter(ctx, previousKey)
	if err != nil {
		return nil, err
	}

	estimate := float64(currentCount) + float64(previousCount)*previousWeight
	if int64(math.Floor(estimate)) >= rule.Quota {
		ttl, err := s.store.TTL(ctx, currentKey)
		if err != nil {
			return nil, err
		}
		if ttl <= 0 {
			ttl = rule.Window()
		}
		return &Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      rule.Quota,
			RetryAfter: ttl,
			Algorithm:  AlgoSlidingWindowCounter,
		}, nil
	}

	newCount, err := s.store.Incr(ctx, currentKey)
	if err != nil {
		return nil, err
	}
	// Current window must outlive itself by one window so it can serve as
	// the next window's "previous" counter.
	if err := s.store.Expire(ctx, currentKey, 2*rule.Window()); err != nil {
		return nil, err
	}

	newEstimate := float64(newCount) + float64(previousCount)*previousWeight
	remaining := rule.Quota - int64(math.Floor(newEstimate))
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Allowed:   true,
		Remaining: remaining,
		Limit:     rule.Quota,
		Algorithm: AlgoSlidingWindowCounter,
	}, nil
}

func (s *slidingWindowCounter) counter(ctx context.Context, key string) (int64, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		var notFound *store.ErrKeyNotFound
		if errors.As(err, &notFound) {
			return 0, nil
		}
		return 0, err
	}
	n, _ := strconv.ParseInt(raw, 10, 64)
	return n, nil
}
