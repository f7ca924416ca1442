package quotagate

import (
	"math"
	"strconv"
	"time"
)

// HTTP header names shared by every middleware adapter.
const (
	HeaderLimit      = "X-Ratelimit-Limit"
	HeaderRemaining  = "X-Ratelimit-Remaining"
	HeaderRetryAfter = "X-Ratelimit-Retry-After"
)

// Decision is the outcome of a rate limit check.
//
// Invariants: 0 ≤ Remaining ≤ Limit; RetryAfter is zero when Allowed and at
// least one second when rejected.
type Decision struct {
	// Allowed reports whether the request should proceed.
	Allowed bool

	// Remaining is the quota left in the current window.
	Remaining int64

	// Limit is the total quota per window.
	Limit int64

	// RetryAfter is how long the client should wait before retrying.
	// Set only on rejection.
	RetryAfter time.Duration

	// Algorithm names the strategy that made the decision, or "none" for
	// no-rule and fail-open admissions.
	Algorithm Algorithm
}

// RetryAfterSeconds returns RetryAfter in whole seconds, rounded up and
// never below one for a rejected decision.
func (d *Decision) RetryAfterSeconds() int64 {
	if d.Allowed {
		return 0
	}
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Headers renders the decision as the X-Ratelimit-* response headers.
// The retry hint appears only on rejections.
func (d *Decision) Headers() map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.FormatInt(d.Limit, 10),
		HeaderRemaining: strconv.FormatInt(d.Remaining, 10),
	}
	if !d.Allowed {
		h[HeaderRetryAfter] = strconv.FormatInt(d.RetryAfterSeconds(), 10)
	}
	return h
}
