package quotagate

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// Checker is the decision entry point the middleware adapters call.
// Implementations never return a nil Decision: when err is non-nil the
// decision is the fail-open admission, so callers can serve the request and
// leave error accounting to instrumentation.
type Checker interface {
	Check(ctx context.Context, client ClientIdentifier, domain string, keyType KeyType) (*Decision, error)
}

// Limiter resolves the rule for a request, dispatches to the matching
// strategy, and packages the result. It is safe for concurrent use and
// holds no per-request state.
//
// Collaborators are injected at construction; there are no process-wide
// singletons.
type Limiter struct {
	registry   *Registry
	store      store.Store
	clock      clock.Clock
	logger     zerolog.Logger
	strategies map[Algorithm]Strategy
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source. Default: the system clock.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter over the given rule registry and backing store.
func New(registry *Registry, st store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		registry: registry,
		store:    st,
		clock:    clock.New(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.strategies = make(map[Algorithm]Strategy, len(Algorithms()))
	for _, algo := range Algorithms() {
		s, _ := newStrategy(algo, l.store, l.clock)
		l.strategies[algo] = s
	}
	return l
}

// Check decides whether the request should be admitted.
//
// No rule for (domain, keyType) means no limit: the request is admitted
// with algorithm "none". A store failure also admits the request
// (fail-open) — availability wins over strict limiting when the limiter
// itself is impaired — with a warning logged and the error returned
// alongside the admission for instrumentation.
func (l *Limiter) Check(ctx context.Context, client ClientIdentifier, domain string, keyType KeyType) (*Decision, error) {
	rule, ok := l.registry.Get(domain, keyType)
	if !ok {
		l.logger.Debug().
			Str("domain", domain).
			Str("key_type", string(keyType)).
			Msg("no rule matched, allowing")
		return unlimited(), nil
	}

	strategy := l.strategies[rule.Algorithm]
	decision, err := strategy.Decide(ctx, client, rule)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("domain", domain).
			Str("key_type", string(keyType)).
			Str("algorithm", string(rule.Algorithm)).
			Msg("rate limit check failed, admitting request")
		return unlimited(), err
	}

	l.logger.Debug().
		Bool("allowed", decision.Allowed).
		Int64("remaining", decision.Remaining).
		Int64("limit", decision.Limit).
		Str("algorithm", string(decision.Algorithm)).
		Str("key", client.Key(rule)).
		Msg("rate limit decision")
	return decision, nil
}

// unlimited is the decision for requests no rule constrains.
func unlimited() *Decision {
	return &Decision{
		Allowed:   true,
		Remaining: math.MaxInt64,
		Limit:     math.MaxInt64,
		Algorithm: AlgoNone,
	}
}
