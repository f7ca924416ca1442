// Package echomw provides Echo middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/labstack/echo.
//
// Usage:
//
//	limiter := quotagate.New(registry, store)
//	e := echo.New()
//	e.Use(echomw.RateLimit(limiter))
package echomw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quotagate/quotagate"
)

// ClientFunc extracts the client identity from an Echo context.
type ClientFunc func(c echo.Context) quotagate.ClientIdentifier

// DomainFunc maps an Echo request to the rate limiting domain its rule is
// looked up under.
type DomainFunc func(c echo.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c echo.Context, decision *quotagate.Decision) error

// Config holds the rate limit middleware configuration.
type Config struct {
	// Checker makes the admission decision (required).
	Checker quotagate.Checker

	// ClientFunc extracts the client identity. Default: ClientFromContext.
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

	// DeniedHandler is called on denial. Default: 429 JSON.
	DeniedHandler DeniedHandler

	// ExcludePaths are request paths that bypass rate limiting.
	// Default: {"/health": true}.
	ExcludePaths map[string]bool

	// Headers controls whether X-Ratelimit-* headers are set.
	// Default: true.
	Headers *bool
}

// RateLimit creates Echo middleware with default settings.
func RateLimit(checker quotagate.Checker) echo.MiddlewareFunc {
	return RateLimitWithConfig(Config{Checker: checker})
}

// RateLimitWithConfig creates Echo middleware with full configuration control.
func RateLimitWithConfig(cfg Config) echo.MiddlewareFunc {
	if cfg.Checker == nil {
		panic("echomw: Checker is required")
	}
	if cfg.ClientFunc == nil {
		cfg.ClientFunc = ClientFromContext
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

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.ExcludePaths[c.Request().URL.Path] {
				return next(c)
			}

			client := cfg.ClientFunc(c)
			domain := cfg.DomainFunc(c)
			keyType := cfg.KeyType
			if kt, ok := cfg.DomainKeyTypes[domain]; ok {
				keyType = kt
			}

			// Store failures come back as a fail-open admission, so the
			// request proceeds either way.
			decision, _ := cfg.Checker.Check(c.Request().Context(), client, domain, keyType)

			if sendHeaders {
				for k, v := range decision.Headers() {
					c.Response().Header().Set(k, v)
				}
			}

			if !decision.Allowed {
				return cfg.DeniedHandler(c, decision)
			}

			return next(c)
		}
	}
}

// ─── Built-in Extractors ─────────────────────────────────────────────────────

// ClientFromContext builds the client identity from the X-User-Id header,
// Echo's RealIP(), and the request path.
func ClientFromContext(c echo.Context) quotagate.ClientIdentifier {
	return quotagate.ClientIdentifier{
		UserID:    c.Request().Header.Get("X-User-Id"),
		IPAddress: c.RealIP(),
		Endpoint:  c.Request().URL.Path,
	}
}

// DomainByPathPrefix maps request paths to rule domains: /auth/* to "auth",
// /messages/* to "messaging", everything else to "api".
func DomainByPathPrefix(c echo.Context) string {
	switch {
	case strings.HasPrefix(c.Request().URL.Path, "/auth/"):
		return "auth"
	case strings.HasPrefix(c.Request().URL.Path, "/messages/"):
		return "messaging"
	default:
		return "api"
	}
}

// DomainStatic returns a DomainFunc that maps every request to one domain.
func DomainStatic(domain string) DomainFunc {
	return func(echo.Context) string { return domain }
}

// ─── Internals ───────────────────────────────────────────────────────────────

func defaultDeniedHandler(c echo.Context, decision *quotagate.Decision) error {
	retry := decision.RetryAfterSeconds()
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error":       "Rate limit exceeded",
		"message":     fmt.Sprintf("Too many requests. Retry after %d seconds.", retry),
		"retry_after": retry,
	})
}
