// Package api exposes the tracker's read-only operational surface. Control
// stays in library calls driven by the scheduler and worker; these endpoints
// only report state.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
	"github.com/jonesrussell/price-tracker/internal/telemetry"
)

// BudgetReader reports a user's scrape budget headroom.
type BudgetReader interface {
	Status(ctx context.Context, userID string, cost int, now time.Time) (*domain.BudgetStatus, error)
}

// RateLimitReader reports a user's structural daily counters.
type RateLimitReader interface {
	Status(ctx context.Context, userID string, now time.Time) (*domain.RateLimitStatus, error)
}

// QuotaReader reports a store's monthly discovery headroom.
type QuotaReader interface {
	Status(ctx context.Context, storeID string, now time.Time) (*domain.QuotaStatus, error)
}

// HistoryReader reads recent price history for one link.
type HistoryReader interface {
	History(ctx context.Context, linkID string, limit int) ([]domain.PriceHistoryEntry, error)
}

// QueueReader reports job queue counts.
type QueueReader interface {
	GetStats(ctx context.Context) (*domain.QueueStats, error)
}

// Pinger is the health-check surface of the database pool.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the read surfaces behind the endpoints. Redis and Metrics may be
// nil; the health report and the metrics route degrade accordingly.
type Deps struct {
	Budgets    BudgetReader
	RateLimits RateLimitReader
	Quotas     QuotaReader
	History    HistoryReader
	Queue      QueueReader
	DB         Pinger
	Redis      *redis.Client
	Metrics    *telemetry.Provider
	Logger     logger.Logger
}

// Router builds the gin engine for the status API.
type Router struct {
	cfg  *config.Config
	deps Deps
}

// NewRouter creates a router.
func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{cfg: cfg, deps: deps}
}

// Engine assembles middleware and routes.
func (r *Router) Engine() *gin.Engine {
	if !r.cfg.Service.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger(r.deps.Logger))
	router.Use(gin.Recovery())

	router.GET("/health", r.health)
	if r.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/users/:user_id/budget", r.budgetStatus)
	v1.GET("/users/:user_id/rate-limits", r.rateLimitStatus)
	v1.GET("/stores/:store_id/quota", r.quotaStatus)
	v1.GET("/links/:id/history", r.linkHistory)
	v1.GET("/queue/stats", r.queueStats)

	return router
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", c.Writer.Status()),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}
