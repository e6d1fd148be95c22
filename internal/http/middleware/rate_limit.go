package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
	// Timeout bounds the Redis round trip; on timeout the request passes.
	Timeout time.Duration
	// Skip exempts matching requests.
	Skip func(c *fiber.Ctx) bool
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 120,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit",
		Timeout:     100 * time.Millisecond,
	}
}

// RateLimit creates a fixed-window rate limiting middleware keyed by client
// IP. It fails open when Redis is unavailable.
func RateLimit(rdb redis.UniversalClient, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	def := DefaultRateLimitConfig()
	if config.MaxRequests <= 0 {
		config.MaxRequests = def.MaxRequests
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if config.Skip != nil && config.Skip(c) {
			return c.Next()
		}

		now := time.Now()
		windowStart := now.Truncate(config.Window)
		reset := windowStart.Add(config.Window)
		key := config.KeyPrefix + ":" + c.IP() + ":" + strconv.FormatInt(windowStart.Unix(), 10)

		ctx, cancel := context.WithTimeout(c.UserContext(), config.Timeout)
		defer cancel()

		var incr *redis.IntCmd
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, config.Window)
			return nil
		})
		if err != nil {
			logger.Warn("rate limit redis error", zap.Error(err))
			return c.Next()
		}

		count := incr.Val()
		remaining := int64(config.MaxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(config.MaxRequests) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(time.Until(reset).Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":     "rate limit exceeded",
				"requestId": RequestIDFrom(c),
			})
		}

		return c.Next()
	}
}
