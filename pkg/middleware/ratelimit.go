package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// WindowCounter counts hits per key in fixed windows. Hit returns the count
// including this hit and the time left in the current window.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// MemoryCounter is a single-process WindowCounter
type MemoryCounter struct {
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounter creates an in-process counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Hit(_ context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// Cleanup drops windows that have already ended
func (c *MemoryCounter) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done
func (c *MemoryCounter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RedisCounter shares windows across instances through Redis
type RedisCounter struct {
	redis  *redis.Client
	prefix string
}

// NewRedisCounter creates a Redis-backed counter
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "turnstile:ratelimit"
	}
	return &RedisCounter{redis: client, prefix: prefix}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", c.prefix, key)

	pipe := c.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis error: %w", err)
	}

	left := ttl.Val()
	if left < 0 {
		// First hit of the window: the key has no expiry yet
		if err := c.redis.PExpire(ctx, redisKey, d).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis error: %w", err)
		}
		left = d
	}
	return incr.Val(), left, nil
}

// ThrottleConfig bounds attempts per client in a fixed window
type ThrottleConfig struct {
	Limit  int
	Window time.Duration
	// Scope separates counters of independently throttled routes
	Scope string
}

// LoginThrottle limits credential attempts per client IP. Counter errors
// let the request through.
type LoginThrottle struct {
	counter WindowCounter
	config  ThrottleConfig
	metrics *observability.Metrics
}

// NewLoginThrottle creates a throttle. A non-positive limit disables it.
func NewLoginThrottle(counter WindowCounter, cfg ThrottleConfig, metrics *observability.Metrics) *LoginThrottle {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "login"
	}
	return &LoginThrottle{
		counter: counter,
		config:  cfg,
		metrics: metrics,
	}
}

// Handler wraps an HTTP handler with the throttle
func (t *LoginThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.counter == nil || t.config.Limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := t.config.Scope + ":" + httputil.ClientIP(r)
		count, ttl, err := t.counter.Hit(r.Context(), key, t.config.Window)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Login throttle unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		limit := int64(t.config.Limit)
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > limit {
			t.metrics.RecordThrottled()
			retryAfter := int64((ttl + time.Second - 1) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			httputil.WriteErrorFields(w, http.StatusTooManyRequests, "too many attempts", map[string]interface{}{
				"retry_after": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
