// Package fibermw provides Fiber middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gofiber/fiber.
//
// Usage:
//
//	limiter := quotagate.New(registry, store)
//	app := fiber.New()
//	app.Use(fibermw.RateLimit(limiter))
package fibermw

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/quotagate/quotagate"
)

// ClientFunc extracts the client identity from a Fiber context.
type ClientFunc func(c *fiber.Ctx) quotagate.ClientIdentifier

// DomainFunc maps a Fiber request to the rate limiting domain its rule is
// looked up under.
type DomainFunc func(c *fiber.Ctx) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *fiber.Ctx, decision *quotagate.Decision) error

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

// RateLimit creates Fiber middleware with default settings.
func RateLimit(checker quotagate.Checker) fiber.Handler {
	return RateLimitWithConfig(Config{Checker: checker})
}

// RateLimitWithConfig creates Fiber middleware with full configuration control.
func RateLimitWithConfig(cfg Config) fiber.Handler {
	if cfg.Checker == nil {
		panic("fibermw: Checker is required")
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

	return func(c *fiber.Ctx) error {
		if cfg.ExcludePaths[c.Path()] {
			return c.Next()
		}

		client := cfg.ClientFunc(c)
		domain := cfg.DomainFunc(c)
		keyType := cfg.KeyType
		if kt, ok := cfg.DomainKeyTypes[domain]; ok {
			keyType = kt
		}

		// Store failures come back as a fail-open admission, so the request
		// proceeds either way.
		decision, _ := cfg.Checker.Check(c.UserContext(), client, domain, keyType)

		if sendHeaders {
			for k, v := range decision.Headers() {
				c.Set(k, v)
			}
		}

		if !decision.Allowed {
			return cfg.DeniedHandler(c, decision)
		}

		return c.Next()
	}
}

// ─── Built-in Extractors ─────────────────────────────────────────────────────

// ClientFromContext builds the client identity from the X-User-Id header,
// Fiber's IP() (which respects ProxyHeader when configured), and the
// request path.
func ClientFromContext(c *fiber.Ctx) quotagate.ClientIdentifier {
	return quotagate.ClientIdentifier{
		UserID:    c.Get("X-User-Id"),
		IPAddress: c.IP(),
		Endpoint:  c.Path(),
	}
}

// DomainByPathPrefix maps request paths to rule domains: /auth/* to "auth",
// /messages/* to "messaging", everything else to "api".
func DomainByPathPrefix(c *fiber.Ctx) string {
	switch {
	case strings.HasPrefix(c.Path(), "/auth/"):
		return "auth"
	case strings.HasPrefix(c.Path(), "/messages/"):
		return "messaging"
	default:
		return "api"
	}
}

// DomainStatic returns a DomainFunc that maps every request to one domain.
func DomainStatic(domain string) DomainFunc {
	return func(*fiber.Ctx) string { return domain }
}

// ─── Internals ───────────────────────────────────────────────────────────────

func defaultDeniedHandler(c *fiber.Ctx, decision *quotagate.Decision) error {
	retry := decision.RetryAfterSeconds()
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Rate limit exceeded",
		"message":     fmt.Sprintf("Too many requests. Retry after %d seconds.", retry),
		"retry_after": retry,
	})
}
