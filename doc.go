// Package quotagate is a distributed rate-limiting engine: a middleware
// core that decides, for every incoming request, whether to admit or reject
// it under one of five rate-limiting algorithms, coordinating the decision
// through a shared Redis-compatible store so a horizontally-scaled gateway
// fleet presents a single logical quota per client.
//
// # Algorithms
//
//   - Token Bucket: steady refill, burst-friendly
//   - Leaky Bucket: bounded queue, constant drain
//   - Fixed Window Counter: simple fixed intervals, with a documented boundary leak
//   - Sliding Window Log: precise, stores every timestamp
//   - Sliding Window Counter: weighted approximation with O(1) memory
//
// # Quick Start
//
//	registry := quotagate.NewRegistry()
//	registry.Add(quotagate.Rule{
//	    Domain:    "api",
//	    KeyType:   quotagate.KeyByIPAddress,
//	    Quota:     100,
//	    Unit:      quotagate.UnitMinute,
//	    Algorithm: quotagate.AlgoTokenBucket,
//	})
//
//	limiter := quotagate.New(registry, redisstore.New(client))
//
//	decision, _ := limiter.Check(ctx, quotagate.ClientIdentifier{
//	    IPAddress: "203.0.113.7",
//	}, "api", quotagate.KeyByIPAddress)
//	if decision.Allowed {
//	    // serve request
//	}
//
// Rules are held in an in-memory Registry and may be replaced at runtime;
// per-client counter state lives entirely in the store and expires on its
// own. When the store is unreachable the engine fails open: the request is
// admitted and a warning is logged.
//
// Drop-in middleware for net/http, Gin, Echo, Fiber, and gRPC lives under
// the middleware subpackages.
package quotagate
