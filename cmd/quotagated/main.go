// quotagated is a standalone rate limiting service: a Redis-backed limiter
// behind a Gin HTTP server, with seeded rules, an admin API for managing
// rules at runtime, and demo endpoints for exercising the limits.
//
// Run: go run ./cmd/quotagated/
// Test: curl -i http://localhost:8080/api/data
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate"
	"github.com/quotagate/quotagate/config"
	"github.com/quotagate/quotagate/metrics"
	"github.com/quotagate/quotagate/middleware/ginmw"
	redisstore "github.com/quotagate/quotagate/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}

	logger := zerolog.New(os.Stderr).
		Level(cfg.Level()).
		With().Timestamp().Str("service", "quotagated").
		Logger()

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Store.Addr(),
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
	st := redisstore.New(client)
	defer st.Close()

	registry := quotagate.NewRegistry()
	seedRules(registry, logger)

	limiter := quotagate.New(registry, st, quotagate.WithLogger(logger))
	checker := metrics.Wrap(limiter, metrics.NewCollector())

	router := buildRouter(checker, registry, cfg.DefaultAlgorithm)

	logger.Info().Str("addr", cfg.Listen.Addr()).Msg("listening")
	if err := router.Run(cfg.Listen.Addr()); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

// buildRouter assembles the full HTTP surface over the given checker.
func buildRouter(checker quotagate.Checker, registry *quotagate.Registry, defaultAlgorithm string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginmw.RateLimitWithConfig(ginmw.Config{
		Checker: checker,
		DomainKeyTypes: map[string]quotagate.KeyType{
			"auth":      quotagate.KeyByUserID,
			"api":       quotagate.KeyByIPAddress,
			"messaging": quotagate.KeyByUserID,
		},
		ExcludePaths: excludedPaths(),
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":    "quotagated",
			"algorithms": quotagate.Algorithms(),
			"endpoints": gin.H{
				"demo":  []string{"GET /api/data", "POST /auth/login", "POST /messages/send", "GET /simulate/{algorithm}"},
				"admin": []string{"GET /rules", "POST /rules/add"},
			},
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Demo endpoints, each covered by a seeded rule.
	router.GET("/api/data", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": "here is your data"})
	})
	router.POST("/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "login attempt received"})
	})
	router.POST("/messages/send", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "message queued"})
	})

	router.GET("/simulate/:algorithm", simulateHandler(checker, registry))

	admin := adminAPI{registry: registry, defaultAlgorithm: defaultAlgorithm}
	router.GET("/rules", admin.list)
	router.POST("/rules/add", admin.add)

	return router
}

// excludedPaths lists the routes the global middleware skips. The simulate
// routes run their own check so the named algorithm alone decides.
func excludedPaths() map[string]bool {
	out := map[string]bool{
		"/health":    true,
		"/metrics":   true,
		"/rules":     true,
		"/rules/add": true,
		"/":          true,
	}
	for _, algo := range quotagate.Algorithms() {
		out["/simulate/"+string(algo)] = true
	}
	return out
}

// simulateHandler exercises a single algorithm against a fixed demo rule
// (5 per minute under the "test" domain), so each call shows the named
// algorithm's decision directly.
func simulateHandler(checker quotagate.Checker, registry *quotagate.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		algorithm, err := quotagate.ParseAlgorithm(c.Param("algorithm"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   err.Error(),
				"choices": quotagate.Algorithms(),
			})
			return
		}

		rule := quotagate.Rule{
			Domain:    "test",
			KeyType:   quotagate.KeyByUserID,
			Quota:     5,
			Unit:      quotagate.UnitMinute,
			Algorithm: algorithm,
		}
		if err := registry.Add(rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			userID = "test-user"
		}
		client := quotagate.ClientIdentifier{
			IPAddress: c.ClientIP(),
			UserID:    userID,
			Endpoint:  "/simulate",
		}

		// Fail-open: the decision is usable even when the store errors.
		decision, _ := checker.Check(c.Request.Context(), client, "test", quotagate.KeyByUserID)
		c.JSON(http.StatusOK, gin.H{
			"algorithm":   string(algorithm),
			"allowed":     decision.Allowed,
			"remaining":   decision.Remaining,
			"limit":       decision.Limit,
			"retry_after": decision.RetryAfterSeconds(),
		})
	}
}

// seedRules installs the default limits the service ships with.
func seedRules(registry *quotagate.Registry, logger zerolog.Logger) {
	defaults := []quotagate.Rule{
		{
			Domain:    "auth",
			KeyType:   quotagate.KeyByUserID,
			Quota:     5,
			Unit:      quotagate.UnitMinute,
			Algorithm: quotagate.AlgoSlidingWindowCounter,
		},
		{
			Domain:    "api",
			KeyType:   quotagate.KeyByIPAddress,
			Quota:     100,
			Unit:      quotagate.UnitMinute,
			Algorithm: quotagate.AlgoTokenBucket,
		},
		{
			Domain:    "messaging",
			KeyType:   quotagate.KeyByUserID,
			Quota:     5,
			Unit:      quotagate.UnitDay,
			Algorithm: quotagate.AlgoLeakyBucket,
		},
	}
	for _, rule := range defaults {
		if err := registry.Add(rule); err != nil {
			logger.Fatal().Err(err).Str("domain", rule.Domain).Msg("seed rule")
		}
		logger.Info().
			Str("domain", rule.Domain).
			Str("key_type", string(rule.KeyType)).
			Int64("quota", rule.Quota).
			Str("unit", string(rule.Unit)).
			Str("algorithm", string(rule.Algorithm)).
			Msg("rule registered")
	}
}

// ─── Admin API ───────────────────────────────────────────────────────────────

type adminAPI struct {
	registry         *quotagate.Registry
	defaultAlgorithm string
}

type ruleRequest struct {
	Domain         string `json:"domain"`
	KeyType        string `json:"key_type"`
	Quota          int64  `json:"quota"`
	Unit           string `json:"unit"`
	Algorithm      string `json:"algorithm"`
	BucketCapacity int64  `json:"bucket_capacity"`
	QueueCapacity  int64  `json:"queue_capacity"`
}

type ruleResponse struct {
	Domain         string `json:"domain"`
	KeyType        string `json:"key_type"`
	Limit          string `json:"limit"`
	Algorithm      string `json:"algorithm"`
	BucketCapacity int64  `json:"bucket_capacity,omitempty"`
	QueueCapacity  int64  `json:"queue_capacity,omitempty"`
}

func (a adminAPI) list(c *gin.Context) {
	rules := a.registry.List()
	out := make([]ruleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleResponse{
			Domain:         r.Domain,
			KeyType:        string(r.KeyType),
			Limit:          fmt.Sprintf("%d per %s", r.Quota, r.Unit),
			Algorithm:      string(r.Algorithm),
			BucketCapacity: r.BucketCapacity,
			QueueCapacity:  r.QueueCapacity,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rules": out, "count": len(out)})
}

func (a adminAPI) add(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Algorithm == "" {
		req.Algorithm = a.defaultAlgorithm
	}

	keyType, err := quotagate.ParseKeyType(req.KeyType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	unit, err := quotagate.ParseTimeUnit(req.Unit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	algorithm, err := quotagate.ParseAlgorithm(req.Algorithm)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := quotagate.Rule{
		Domain:         req.Domain,
		KeyType:        keyType,
		Quota:          req.Quota,
		Unit:           unit,
		Algorithm:      algorithm,
		BucketCapacity: req.BucketCapacity,
		QueueCapacity:  req.QueueCapacity,
	}
	if err := a.registry.Add(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule added", "domain": rule.Domain})
}
