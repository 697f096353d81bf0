package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/price-tracker/internal/domain"
	"github.com/jonesrussell/price-tracker/internal/logger"
)

const (
	healthCheckTimeout  = 2 * time.Second
	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

func (r *Router) health(c *gin.Context) {
	health := gin.H{
		"status":  "healthy",
		"service": r.cfg.Service.Name,
		"version": r.cfg.Service.Version,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := r.deps.DB != nil
	if r.deps.DB != nil {
		if err := r.deps.DB.PingContext(ctx); err != nil {
			dbConnected = false
		}
	}
	if !dbConnected {
		health["status"] = "degraded"
	}
	health["database"] = gin.H{"connected": dbConnected}

	// Redis only carries the event stream; its absence degrades, never fails.
	if r.deps.Redis != nil {
		redisConnected := r.deps.Redis.Ping(ctx).Err() == nil
		if !redisConnected {
			health["status"] = "degraded"
		}
		health["redis"] = gin.H{"connected": redisConnected}
	}

	c.JSON(http.StatusOK, health)
}

func (r *Router) budgetStatus(c *gin.Context) {
	status, err := r.deps.Budgets.Status(c.Request.Context(), c.Param("user_id"), 0, time.Now().UTC())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) rateLimitStatus(c *gin.Context) {
	status, err := r.deps.RateLimits.Status(c.Request.Context(), c.Param("user_id"), time.Now().UTC())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) quotaStatus(c *gin.Context) {
	status, err := r.deps.Quotas.Status(c.Request.Context(), c.Param("store_id"), time.Now().UTC())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) linkHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	entries, err := r.deps.History.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"link_id": c.Param("id"),
		"history": entries,
	})
}

func (r *Router) queueStats(c *gin.Context) {
	stats, err := r.deps.Queue.GetStats(c.Request.Context())
	if err != nil {
		r.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (r *Router) respondError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	r.deps.Logger.Error("request failed",
		logger.String("path", c.Request.URL.Path),
		logger.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
