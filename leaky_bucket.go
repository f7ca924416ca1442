package quotagate

import (
	"context"
	"math"
	"time"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// leakyBucket holds requests in a bounded queue that drains at the rule's
// quota per window. Unlike the token bucket it cannot burst past the queue
// slot count, and queued requests stay counted against capacity until they
// leak out. The drain-and-occupy is one scripted store op; decomposing it
// into separate reads and a write would reopen the race between two
// concurrent requests for the last slot.
type leakyBucket struct {
	store store.Store
	clock clock.Clock
}

func (l *leakyBucket) Decide(ctx context.Context, client ClientIdentifier, rule Rule) (*Decision, error) {
	capacity := rule.queueCapacity()
	outflowRate := float64(rule.Quota) / float64(rule.WindowSeconds())
	key := client.Key(rule)
	now := epochSeconds(l.clock.Now())

	res, err := l.store.LeakyBucketTake(ctx, key, capacity, outflowRate, now, rule.Window())
	if err != nil {
		return nil, err
	}

	if res.Allowed {
		return &Decision{
			Allowed:   true,
			Remaining: res.Remaining,
			Limit:     capacity,
			Algorithm: AlgoLeakyBucket,
		}, nil
	}

	retryAfter := time.Duration(math.Ceil(1/outflowRate)) * time.Second
	return &Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      capacity,
		RetryAfter: retryAfter,
		Algorithm:  AlgoLeakyBucket,
	}, nil
}
