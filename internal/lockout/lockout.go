// Package lockout tracks failed login attempts per account in a shared Redis
// counter. The counter gates authentication: at or above the threshold every
// login attempt is rejected regardless of credential correctness.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// Config holds lockout tuning parameters.
type Config struct {
	Threshold int           // failures before lockout, defaults to 5
	Window    time.Duration // counting window, defaults to 15m
}

// Counter is a Redis-backed failed-login counter shared across instances.
type Counter struct {
	redis  redis.UniversalClient
	config Config
}

// NewCounter creates a lockout Counter backed by the given Redis client.
func NewCounter(redisClient redis.UniversalClient, cfg Config) *Counter {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Counter{redis: redisClient, config: cfg}
}

func (c *Counter) key(accountID string) string {
	return "lockout:" + accountID
}

// RecordFailure increments the failure counter for an account. The increment
// is a single atomic round trip; concurrent credential-stuffing bursts must
// not undercount. The TTL is set only on the first failure so the original
// window stands for subsequent failures.
func (c *Counter) RecordFailure(ctx context.Context, accountID string) error {
	count, err := c.redis.Incr(ctx, c.key(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 {
		if err := c.redis.Expire(ctx, c.key(accountID), c.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	return nil
}

// IsLocked reports whether the account has reached the failure threshold
// within the current window. A missing counter means not locked.
func (c *Counter) IsLocked(ctx context.Context, accountID string) (bool, error) {
	count, err := c.redis.Get(ctx, c.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return count >= int64(c.config.Threshold), nil
}

// Reset clears the failure counter, called after successful primary
// authentication.
func (c *Counter) Reset(ctx context.Context, accountID string) error {
	if err := c.redis.Del(ctx, c.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
