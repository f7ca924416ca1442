package quotagate

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// slidingWindowLog keeps every admitted request's timestamp in a sorted set
// under the base key's ":log" suffix and enforces the quota over an exact
// rolling window. The most accurate strategy and the most memory-hungry.
//
// Rejected requests are not recorded: logging rejections would let an
// attacker inflate the log without consuming quota.
type slidingWindowLog struct {
	store store.Store
	clock clock.Clock
	seq   atomic.Int64
}

func (s *slidingWindowLog) Decide(ctx context.Context, client ClientIdentifier, rule Rule) (*Decision, error) {
	logKey := client.Key(rule) + ":log"
	windowSecs := float64(rule.WindowSeconds())
	now := epochSeconds(s.clock.Now())

	// Evict timestamps that have slid out of the window.
	if err := s.store.ZRemRangeByScore(ctx, logKey, 0, now-windowSecs); err != nil {
		return nil, err
	}

	count, err := s.store.ZCard(ctx, logKey)
	if err != nil {
		return nil, err
	}

	if count < rule.Quota {
		// A timestamp alone is not unique under sub-millisecond request
		// rates; the sequence makes the member monotonic per process.
		member := fmt.Sprintf("%d:%d", s.clock.Now().UnixNano(), s.seq.Add(1))
		if err := s.store.ZAdd(ctx, logKey, now, member); err != nil {
			return nil, err
		}
		if err := s.store.Expire(ctx, logKey, rule.Window()); err != nil {
			return nil, err
		}
		return &Decision{
			Allowed:   true,
			Remaining: rule.Quota - count - 1,
			Limit:     rule.Quota,
			Algorithm: AlgoSlidingWindowLog,
		}, nil
	}

	// Approximation: average spacing until the oldest stamp falls out.
	retryAfter := time.Duration(math.Ceil(windowSecs/float64(rule.Quota))) * time.Second
	return &Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      rule.Quota,
		RetryAfter: retryAfter,
		Algorithm:  AlgoSlidingWindowLog,
	}, nil
}
