package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiterConfig tunes the sliding-window limiter
type RateLimiterConfig struct {
	RedisClient *redis.Client
	Limit       int
	Window      time.Duration
	KeyPrefix   string
}

// RateLimit counts requests per caller in redis. When redis is
// unavailable requests pass through; the limiter protects the rendering
// service, it is not a correctness guard.
func RateLimit(cfg RateLimiterConfig) func(http.Handler) http.Handler {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := callerID(r)
			key := cfg.KeyPrefix + id

			count, err := cfg.RedisClient.Incr(ctx, key).Result()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				cfg.RedisClient.Expire(ctx, key, cfg.Window)
			}

			ttl, _ := cfg.RedisClient.TTL(ctx, key).Result()
			reset := int(ttl.Seconds())
			if reset < 0 {
				reset = 0
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

			if count > int64(cfg.Limit) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}

func callerID(r *http.Request) string {
	if userID := UserID(r); userID != "" {
		return userID
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}
