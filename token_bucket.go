package quotagate

import (
	"context"
	"math"
	"time"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// tokenBucket admits bursts of up to the bucket capacity and sustains the
// rule's quota per window through a constant refill. A full bucket admits
// capacity requests back-to-back; afterwards admissions track the refill
// rate. The refill-and-take is one scripted store op, so concurrent
// requests for the same key never double-spend a token.
type tokenBucket struct {
	store store.Store
	clock clock.Clock
}

func (t *tokenBucket) Decide(ctx context.Context, client ClientIdentifier, rule Rule) (*Decision, error) {
	capacity := rule.bucketCapacity()
	refillRate := float64(rule.Quota) / float64(rule.WindowSeconds())
	key := client.Key(rule)
	now := epochSeconds(t.clock.Now())

	res, err := t.store.TokenBucketTake(ctx, key, capacity, refillRate, now)
	if err != nil {
		return nil, err
	}

	if res.Allowed {
		return &Decision{
			Allowed:   true,
			Remaining: res.Remaining,
			Limit:     capacity,
			Algorithm: AlgoTokenBucket,
		}, nil
	}

	// The client needs to wait for at least one whole token to accrue.
	retryAfter := time.Duration(math.Ceil(1/refillRate)) * time.Second
	return &Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      capacity,
		RetryAfter: retryAfter,
		Algorithm:  AlgoTokenBucket,
	}, nil
}
