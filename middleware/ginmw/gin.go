// Package ginmw provides Gin middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gin-gonic/gin.
//
// Usage:
//
//	limiter := quotagate.New(registry, store)
//	r := gin.Default()
//	r.Use(ginmw.RateLimit(limiter))
package ginmw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quotagate/quotagate"
)

// ClientFunc extracts the client identity from a Gin context.
type ClientFunc func(c *gin.Context) quotagate.ClientIdentifier

// DomainFunc maps a Gin request to the rate limiting domain its rule is
// looked up under.
type DomainFunc func(c *gin.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *gin.Context, decision *quotagate.Decision)

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

// RateLimit creates Gin middleware with default settings.
func RateLimit(checker quotagate.Checker) gin.HandlerFunc {
	return RateLimitWithConfig(Config{Checker: checker})
}

// RateLimitWithConfig creates Gin middleware with full configuration control.
func RateLimitWithConfig(cfg Config) gin.HandlerFunc {
	if cfg.Checker == nil {
		panic("ginmw: Checker is required")
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

	return func(c *gin.Context) {
		if cfg.ExcludePaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		client := cfg.ClientFunc(c)
		domain := cfg.DomainFunc(c)
		keyType := cfg.KeyType
		if kt, ok := cfg.DomainKeyTypes[domain]; ok {
			keyType = kt
		}

		// Store failures come back as a fail-open admission, so the request
		// proceeds either way.
		decision, _ := cfg.Checker.Check(c.Request.Context(), client, domain, keyType)

		if sendHeaders {
			for k, v := range decision.Headers() {
				c.Header(k, v)
			}
		}

		if !decision.Allowed {
			cfg.DeniedHandler(c, decision)
			return
		}

		c.Next()
	}
}

// ─── Built-in Extractors ─────────────────────────────────────────────────────

// ClientFromContext builds the client identity from the X-User-Id header,
// Gin's ClientIP() (which respects trusted proxies), and the request path.
func ClientFromContext(c *gin.Context) quotagate.ClientIdentifier {
	return quotagate.ClientIdentifier{
		UserID:    c.GetHeader("X-User-Id"),
		IPAddress: c.ClientIP(),
		Endpoint:  c.Request.URL.Path,
	}
}

// DomainByPathPrefix maps request paths to rule domains: /auth/* to "auth",
// /messages/* to "messaging", everything else to "api".
func DomainByPathPrefix(c *gin.Context) string {
	switch {
	case strings.HasPrefix(c.Request.URL.Path, "/auth/"):
		return "auth"
	case strings.HasPrefix(c.Request.URL.Path, "/messages/"):
		return "messaging"
	default:
		return "api"
	}
}

// DomainStatic returns a DomainFunc that maps every request to one domain.
func DomainStatic(domain string) DomainFunc {
	return func(*gin.Context) string { return domain }
}

// ─── Internals ───────────────────────────────────────────────────────────────

func defaultDeniedHandler(c *gin.Context, decision *quotagate.Decision) {
	retry := decision.RetryAfterSeconds()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "Rate limit exceeded",
		"message":     fmt.Sprintf("Too many requests. Retry after %d seconds.", retry),
		"retry_after": retry,
	})
}
