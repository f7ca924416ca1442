package quotagate

import (
	"context"
	"fmt"
	"time"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// fixedWindow counts admissions per fixed time window, keyed by the window
// start. Simple and memory-cheap, with the documented limitation that a
// burst straddling a window boundary can admit up to 2× the quota inside a
// rolling window. That semantic is preserved deliberately.
type fixedWindow struct {
	store store.Store
	clock clock.Clock
}

func (f *fixedWindow) Decide(ctx context.Context, client ClientIdentifier, rule Rule) (*Decision, error) {
	windowSecs := rule.WindowSeconds()
	windowStart := f.clock.Now().Unix() / windowSecs * windowSecs
	key := fmt.Sprintf("%s:window:%d", client.Key(rule), windowStart)

	res, err := f.store.IncrWithLimit(ctx, key, rule.Quota, rule.Window())
	if err != nil {
		return nil, err
	}

	remaining := rule.Quota - res.Count
	if remaining < 0 {
		remaining = 0
	}

	if res.Allowed {
		return &Decision{
			Allowed:   true,
			Remaining: remaining,
			Limit:     rule.Quota,
			Algorithm: AlgoFixedWindow,
		}, nil
	}

	retryAfter := res.TTL
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      rule.Quota,
		RetryAfter: retryAfter,
		Algorithm:  AlgoFixedWindow,
	}, nil
}
