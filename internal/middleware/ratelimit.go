package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// RateLimiter is a fixed-window counter in Redis, so limits hold across
// every instance behind the load balancer.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	key    func(c *gin.Context) string
	log    zerolog.Logger
}

// NewRateLimiter allows limit requests per window for each key. Requests
// for which key returns "" are not limited.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, key func(c *gin.Context) string, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		key:    key,
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Allow counts one hit on key and reports whether it is within the limit.
// remaining is never negative.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int64, err error) {
	count, err := rl.rdb.Incr(ctx, key).Result()
	if err == nil && count == 1 {
		err = rl.rdb.Expire(ctx, key, rl.window).Err()
	}
	if err != nil {
		return true, rl.limit, err
	}
	return count <= rl.limit, max(rl.limit-count, 0), nil
}

// Middleware returns a Gin middleware enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if rl.key != nil {
			key = rl.key(c)
		}
		if key == "" {
			c.Next()
			return
		}

		allowed, remaining, err := rl.Allow(c.Request.Context(), key)
		if err != nil {
			// Redis errors fail open.
			rl.log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
