// Package grpcmw provides gRPC server interceptors for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in google.golang.org/grpc.
//
// Usage:
//
//	limiter := quotagate.New(registry, store)
//	server := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(grpcmw.UnaryServerInterceptor(limiter, "api")),
//	    grpc.ChainStreamInterceptor(grpcmw.StreamServerInterceptor(limiter, "api")),
//	)
package grpcmw

import (
	"context"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/quotagate/quotagate"
)

// ClientFunc extracts the client identity from an RPC context.
type ClientFunc func(ctx context.Context, fullMethod string) quotagate.ClientIdentifier

// DeniedHandler produces the gRPC error returned when a request is rate
// limited. Default: codes.ResourceExhausted with a retry hint.
type DeniedHandler func(ctx context.Context, decision *quotagate.Decision) error

// Config holds full configuration for gRPC rate limit interceptors.
type Config struct {
	// Checker makes the admission decision (required).
	Checker quotagate.Checker

	// Domain is the rule domain RPCs are checked against (required).
	Domain string

	// ClientFunc extracts the client identity. Default: ClientFromContext.
	ClientFunc ClientFunc

	// KeyType selects which identity attribute rules are matched on.
	// Default: quotagate.KeyByIPAddress.
	KeyType quotagate.KeyType

	// DeniedHandler produces the error returned on denial.
	// Default: codes.ResourceExhausted.
	DeniedHandler DeniedHandler

	// ExcludeMethods are full method names (e.g. "/pkg.Service/Method")
	// that bypass rate limiting.
	ExcludeMethods map[string]bool

	// Headers controls whether rate limit metadata is sent in response
	// headers. Default: true.
	Headers *bool
}

// ─── Unary Interceptors ──────────────────────────────────────────────────────

// UnaryServerInterceptor creates a unary server interceptor with default
// settings: callers are identified by peer address and checked against the
// given domain.
func UnaryServerInterceptor(checker quotagate.Checker, domain string) grpc.UnaryServerInterceptor {
	return UnaryServerInterceptorWithConfig(Config{Checker: checker, Domain: domain})
}

// UnaryServerInterceptorWithConfig creates a unary server interceptor with
// full configuration control.
func UnaryServerInterceptorWithConfig(cfg Config) grpc.UnaryServerInterceptor {
	cfg = withDefaults(cfg)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg.ExcludeMethods != nil && cfg.ExcludeMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		decision := check(ctx, cfg, info.FullMethod)
		if !decision.Allowed {
			return nil, cfg.DeniedHandler(ctx, decision)
		}
		return handler(ctx, req)
	}
}

// ─── Stream Interceptors ─────────────────────────────────────────────────────

// StreamServerInterceptor creates a stream server interceptor with default
// settings.
func StreamServerInterceptor(checker quotagate.Checker, domain string) grpc.StreamServerInterceptor {
	return StreamServerInterceptorWithConfig(Config{Checker: checker, Domain: domain})
}

// StreamServerInterceptorWithConfig creates a stream server interceptor with
// full configuration control.
func StreamServerInterceptorWithConfig(cfg Config) grpc.StreamServerInterceptor {
	cfg = withDefaults(cfg)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		if cfg.ExcludeMethods != nil && cfg.ExcludeMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		decision := check(ctx, cfg, info.FullMethod)
		if !decision.Allowed {
			return cfg.DeniedHandler(ctx, decision)
		}
		return handler(srv, ss)
	}
}

// ─── Built-in Extractors ─────────────────────────────────────────────────────

// ClientFromContext builds the client identity from incoming metadata
// (x-user-id), the peer address, and the full RPC method name.
func ClientFromContext(ctx context.Context, fullMethod string) quotagate.ClientIdentifier {
	return quotagate.ClientIdentifier{
		UserID:    metadataValue(ctx, "x-user-id"),
		IPAddress: peerAddr(ctx),
		Endpoint:  fullMethod,
	}
}

// ─── Internals ───────────────────────────────────────────────────────────────

func withDefaults(cfg Config) Config {
	if cfg.Checker == nil {
		panic("grpcmw: Checker is required")
	}
	if cfg.Domain == "" {
		panic("grpcmw: Domain is required")
	}
	if cfg.ClientFunc == nil {
		cfg.ClientFunc = ClientFromContext
	}
	if cfg.KeyType == "" {
		cfg.KeyType = quotagate.KeyByIPAddress
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	return cfg
}

// check runs the admission decision and attaches rate limit metadata.
// Store failures surface as a fail-open admission, so RPCs proceed when
// the limiter itself is impaired.
func check(ctx context.Context, cfg Config, fullMethod string) *quotagate.Decision {
	client := cfg.ClientFunc(ctx, fullMethod)
	decision, _ := cfg.Checker.Check(ctx, client, cfg.Domain, cfg.KeyType)

	if cfg.Headers == nil || *cfg.Headers {
		setRateLimitMetadata(ctx, decision)
	}
	return decision
}

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if ok && p.Addr != nil {
		addr := p.Addr.String()
		if i := strings.LastIndex(addr, ":"); i > 0 {
			return addr[:i]
		}
		return addr
	}
	return ""
}

func metadataValue(ctx context.Context, header string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(header); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func setRateLimitMetadata(ctx context.Context, decision *quotagate.Decision) {
	md := metadata.Pairs(
		strings.ToLower(quotagate.HeaderLimit), strconv.FormatInt(decision.Limit, 10),
		strings.ToLower(quotagate.HeaderRemaining), strconv.FormatInt(decision.Remaining, 10),
	)
	if !decision.Allowed {
		md.Append(strings.ToLower(quotagate.HeaderRetryAfter),
			strconv.FormatInt(decision.RetryAfterSeconds(), 10))
	}
	_ = grpc.SetHeader(ctx, md)
}

func defaultDeniedHandler(_ context.Context, decision *quotagate.Decision) error {
	return status.Errorf(codes.ResourceExhausted,
		"rate limit exceeded, retry after %ds", decision.RetryAfterSeconds())
}
