package quotagate

import (
	"context"
	"time"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// Strategy is the common contract of the five decision engines.
// Implementations are stateless; all per-client state lives in the store,
// so instances may be shared across goroutines and reused for every rule
// carrying their algorithm.
type Strategy interface {
	Decide(ctx context.Context, client ClientIdentifier, rule Rule) (*Decision, error)
}

// newStrategy builds the strategy for the given algorithm. The set is
// closed: there is no open registration mechanism.
func newStrategy(algo Algorithm, st store.Store, clk clock.Clock) (Strategy, error) {
	switch algo {
	case AlgoTokenBucket:
		return &tokenBucket{store: st, clock: clk}, nil
	case AlgoLeakyBucket:
		return &leakyBucket{store: st, clock: clk}, nil
	case AlgoFixedWindow:
		return &fixedWindow{store: st, clock: clk}, nil
	case AlgoSlidingWindowLog:
		return &slidingWindowLog{store: st, clock: clk}, nil
	case AlgoSlidingWindowCounter:
		return &slidingWindowCounter{store: st, clock: clk}, nil
	}
	return nil, ErrUnknownAlgorithm
}

// epochSeconds converts a time to real-valued Unix seconds, the time format
// the scripted store operations take.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
