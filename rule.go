package quotagate

import (
	"fmt"
	"time"
)

// TimeUnit is the window over which a rule's quota is measured.
type TimeUnit string

const (
	UnitSecond TimeUnit = "second"
	UnitMinute TimeUnit = "minute"
	UnitHour   TimeUnit = "hour"
	UnitDay    TimeUnit = "day"
)

// ParseTimeUnit converts a string into a TimeUnit.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case UnitSecond, UnitMinute, UnitHour, UnitDay:
		return TimeUnit(s), nil
	}
	return "", fmt.Errorf("%w: unit %q (want second, minute, hour, or day)", ErrInvalidRule, s)
}

// Seconds returns the unit's fixed length in seconds.
func (u TimeUnit) Seconds() int64 {
	switch u {
	case UnitSecond:
		return 1
	case UnitMinute:
		return 60
	case UnitHour:
		return 3600
	case UnitDay:
		return 86400
	}
	return 0
}

// Algorithm selects one of the five decision engines.
type Algorithm string

const (
	AlgoTokenBucket          Algorithm = "token_bucket"
	AlgoLeakyBucket          Algorithm = "leaky_bucket"
	AlgoFixedWindow          Algorithm = "fixed_window"
	AlgoSlidingWindowLog     Algorithm = "sliding_window_log"
	AlgoSlidingWindowCounter Algorithm = "sliding_window_counter"

	// AlgoNone marks decisions made without a rule: missing rules and
	// fail-open admissions.
	AlgoNone Algorithm = "none"
)

// Algorithms lists the five selectable algorithms.
func Algorithms() []Algorithm {
	return []Algorithm{
		AlgoTokenBucket,
		AlgoLeakyBucket,
		AlgoFixedWindow,
		AlgoSlidingWindowLog,
		AlgoSlidingWindowCounter,
	}
}

// ParseAlgorithm converts a string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgoTokenBucket, AlgoLeakyBucket, AlgoFixedWindow,
		AlgoSlidingWindowLog, AlgoSlidingWindowCounter:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// KeyType names the client attribute a rule limits by.
type KeyType string

const (
	KeyByUserID    KeyType = "user_id"
	KeyByIPAddress KeyType = "ip_address"
	KeyByEndpoint  KeyType = "endpoint"
)

// ParseKeyType converts a string into a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(s) {
	case KeyByUserID, KeyByIPAddress, KeyByEndpoint:
		return KeyType(s), nil
	}
	return "", fmt.Errorf("%w: key type %q (want user_id, ip_address, or endpoint)", ErrInvalidRule, s)
}

// Rule is a rate-limiting rule: at most Quota admissions per Unit for each
// client in Domain identified by KeyType, decided by Algorithm.
//
// Rules are plain values; the Registry holds the authoritative copies and
// readers always see a consistent snapshot.
type Rule struct {
	// Domain is the rule category, e.g. "auth", "api", "messaging".
	Domain string

	// KeyType is what to limit by: user id, IP address, or endpoint.
	KeyType KeyType

	// Quota is the maximum number of admissions per Unit. Must be positive.
	Quota int64

	// Unit is the time window the quota is measured over.
	Unit TimeUnit

	// Algorithm selects the decision engine.
	Algorithm Algorithm

	// BucketCapacity is the token bucket burst size.
	// Zero means Quota.
	BucketCapacity int64

	// QueueCapacity is the leaky bucket queue size.
	// Zero means 2 × Quota.
	QueueCapacity int64
}

// Validate reports whether the rule satisfies the model invariants.
// Invalid rules wrap ErrInvalidRule or ErrUnknownAlgorithm.
func (r Rule) Validate() error {
	if r.Domain == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidRule)
	}
	if _, err := ParseKeyType(string(r.KeyType)); err != nil {
		return err
	}
	if r.Quota <= 0 {
		return fmt.Errorf("%w: quota %d must be positive", ErrInvalidRule, r.Quota)
	}
	if _, err := ParseTimeUnit(string(r.Unit)); err != nil {
		return err
	}
	if _, err := ParseAlgorithm(string(r.Algorithm)); err != nil {
		return err
	}
	if r.BucketCapacity < 0 {
		return fmt.Errorf("%w: bucket capacity %d must not be negative", ErrInvalidRule, r.BucketCapacity)
	}
	if r.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue capacity %d must not be negative", ErrInvalidRule, r.QueueCapacity)
	}
	return nil
}

// WindowSeconds returns the rule's window length in whole seconds.
func (r Rule) WindowSeconds() int64 {
	return r.Unit.Seconds()
}

// Window returns the rule's window as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds()) * time.Second
}

// bucketCapacity is the effective token bucket size.
func (r Rule) bucketCapacity() int64 {
	if r.BucketCapacity > 0 {
		return r.BucketCapacity
	}
	return r.Quota
}

// queueCapacity is the effective leaky bucket queue size.
func (r Rule) queueCapacity() int64 {
	if r.QueueCapacity > 0 {
		return r.QueueCapacity
	}
	return 2 * r.Quota
}
