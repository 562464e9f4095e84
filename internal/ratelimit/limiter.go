// Package ratelimit is the edge admission layer: a fixed-window request
// counter per client shared across gateway instances through Redis, sitting
// in front of all routing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumensocial/identity/internal/httpapi"
)

// ErrLimiterUnavailable indicates the shared counter backend is unreachable.
var ErrLimiterUnavailable = errors.New("rate limiter backend unavailable")

// Config holds admission window parameters.
type Config struct {
	Window time.Duration // defaults to 15m
	Limit  int           // defaults to 100
}

// Limiter counts requests per client address in Redis. Expiry of the window
// key is the implicit decrement; there is no sweeper.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	logger *zap.Logger
}

// NewLimiter creates an admission Limiter backed by the given Redis client.
func NewLimiter(redisClient redis.UniversalClient, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &Limiter{redis: redisClient, config: cfg, logger: logger}
}

func (l *Limiter) key(client string) string {
	return "rl:" + client
}

// Allow records one request for the client and reports whether it fits the
// current window. The increment is a single atomic round trip; the TTL is
// set only when the key is created so the window is fixed, not sliding.
func (l *Limiter) Allow(ctx context.Context, client string) (bool, error) {
	count, err := l.redis.Incr(ctx, l.key(client)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(client), l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}

	return count <= int64(l.config.Limit), nil
}

// Middleware gates every request by source address before any routing. Over
// the cap the response is a uniform 429 envelope regardless of the targeted
// route. Backend faults fail open: admission control degrades before it
// takes the edge down.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			l.logger.Error("admission check failed", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpapi.Envelope{
				Success:    false,
				StatusCode: http.StatusTooManyRequests,
				Message:    "Too many requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}
