package quotagate

import "errors"

// ErrInvalidRule indicates rule parameters that violate the model's
// invariants: non-positive quota, unknown time unit, unknown key type, or
// negative capacities. The registry rejects such rules unchanged.
var ErrInvalidRule = errors.New("quotagate: invalid rule")

// ErrUnknownAlgorithm indicates an algorithm outside the closed set of five.
var ErrUnknownAlgorithm = errors.New("quotagate: unknown algorithm")
