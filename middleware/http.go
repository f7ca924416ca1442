// Package middleware provides net/http middleware that enforces rate limit
// decisions from a quotagate.Checker.
//
// Usage with net/http:
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/", middleware.RateLimit(limiter)(handler))
//
// Usage with chi:
//
//	r := chi.NewRouter()
//	r.Use(middleware.RateLimit(limiter))
//
// Framework-specific adapters live in the ginmw, echomw, fibermw, and grpcmw
// subpackages so importing this package pulls in no web framework.
package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/quotagate/quotagate"
)

// ClientFunc extracts the client identity from an HTTP request.
type ClientFunc func(r *http.Request) quotagate.ClientIdentifier

// DomainFunc maps an HTTP request to the rate limiting domain its rule
// is looked up under.
type DomainFunc func(r *http.Request) string

// DeniedHandler is called when a request is rate limited.
// Default behavior: 429 Too Many Requests with a JSON body.
type DeniedHandler func(w http.ResponseWriter, r *http.Request, decision *quotagate.Decision)

// Config holds the rate limit middleware configuration.
type Config struct {
	// Checker makes the admission decision (required).
	Checker quotagate.Checker

	// ClientFunc extracts the client identity from the request.
	// Default: ClientFromRequest.
	ClientFunc ClientFunc

	// DomainFunc maps the request to a rule domain.
	// Default: DomainByPathPrefix.
	DomainFunc DomainFunc

	// KeyType selects which identity attribute rules are matched on.
	// Default: quotagate.KeyByIPAddress.
	KeyType quotagate.KeyType

	// DomainKeyTypes overrides KeyType per domain, for deployments where
	// some domains limit by user and others by IP.
	DomainKeyTypes map[string]quotagate.KeyType

	// DeniedHandler is called when a request is denied.
	// Default: 429 with a JSON body carrying the retry hint.
	DeniedHandler DeniedHandler

	// ExcludePaths are request paths that bypass rate limiting.
	// Default: {"/health": true}.
	ExcludePaths map[string]bool

	// Headers controls whether X-Ratelimit-* headers are set on responses.
	// Default: true.
	Headers *bool
}

// RateLimit creates HTTP middleware with default settings: clients are
// identified by IP address, domains are derived from the path prefix, and
// /health bypasses limiting.
func RateLimit(checker quotagate.Checker) func(http.Handler) http.Handler {
	return RateLimitWithConfig(Config{Checker: checker})
}

// RateLimitWithConfig creates HTTP middleware with full configuration control.
func RateLimitWithConfig(cfg Config) func(http.Handler) http.Handler {
	if cfg.Checker == nil {
		panic("quotagate/middleware: Checker is required")
	}
	if cfg.ClientFunc == nil {
		cfg.ClientFunc = ClientFromRequest
	}
	if cfg.DomainFunc == nil {
		cfg.DomainFunc = DomainByPathPrefix
	}
	if cfg.KeyType == "" {
		cfg.KeyType = quotagate.KeyByIPAddress
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	if cfg.ExcludePaths == nil {
		cfg.ExcludePaths = map[string]bool{"/health": true}
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.ExcludePaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			client := cfg.ClientFunc(r)
			domain := cfg.DomainFunc(r)
			keyType := cfg.KeyType
			if kt, ok := cfg.DomainKeyTypes[domain]; ok {
				keyType = kt
			}

			// Check never returns a nil decision: store failures come back
			// as a fail-open admission, so the request is served either way
			// and the error is left to the instrumentation wrapper.
			decision, _ := cfg.Checker.Check(r.Context(), client, domain, keyType)

			if sendHeaders {
				for k, v := range decision.Headers() {
					w.Header().Set(k, v)
				}
			}

			if !decision.Allowed {
				cfg.DeniedHandler(w, r, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ─── Built-in Extractors ─────────────────────────────────────────────────────

// ClientFromRequest builds the client identity from standard request
// attributes: the X-User-Id header, the client IP, and the request path.
func ClientFromRequest(r *http.Request) quotagate.ClientIdentifier {
	return quotagate.ClientIdentifier{
		UserID:    r.Header.Get("X-User-Id"),
		IPAddress: ClientIP(r),
		Endpoint:  r.URL.Path,
	}
}

// ClientIP extracts the client IP address. It checks X-Forwarded-For,
// X-Real-IP, then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// DomainByPathPrefix maps request paths to rule domains: /auth/* to "auth",
// /messages/* to "messaging", everything else to "api".
func DomainByPathPrefix(r *http.Request) string {
	switch {
	case strings.HasPrefix(r.URL.Path, "/auth/"):
		return "auth"
	case strings.HasPrefix(r.URL.Path, "/messages/"):
		return "messaging"
	default:
		return "api"
	}
}

// DomainStatic returns a DomainFunc that maps every request to one domain.
func DomainStatic(domain string) DomainFunc {
	return func(*http.Request) string { return domain }
}

// ─── Default Handlers ────────────────────────────────────────────────────────

type deniedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after"`
}

func defaultDeniedHandler(w http.ResponseWriter, _ *http.Request, decision *quotagate.Decision) {
	retry := decision.RetryAfterSeconds()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(deniedBody{
		Error:      "Rate limit exceeded",
		Message:    fmt.Sprintf("Too many requests. Retry after %d seconds.", retry),
		RetryAfter: retry,
	})
}
