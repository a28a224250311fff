package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/redis"
	"github.com/crossborder/core/internal/pkg/response"
)

// Limiter decides whether a caller may proceed within the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a fixed-window in-process Limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int64
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	count int64
	start time.Time
}

func NewMemoryLimiter(limit int64, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= m.window {
		m.buckets[key] = &bucket{count: 1, start: now}
		return true, nil
	}
	b.count++
	return b.count <= m.limit, nil
}

// RedisLimiter is a fixed-window Limiter shared across instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := r.client.IncrWindow(ctx, "ratelimit:"+key, r.window)
	if err != nil {
		return false, err
	}
	return n <= r.limit, nil
}

// RateLimit enforces a per-client request limit. Limiter errors fail open
// so a limiter outage does not take the API down with it.
func RateLimit(limiter Limiter, log *zap.Logger) gin.HandlerFunc {
	log = log.Named("ratelimit")
	return func(c *gin.Context) {
		key := ClientID(c)
		if key == "" {
			key = c.ClientIP()
		}
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Error("limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			response.Error(c, apperrors.New(apperrors.CodeRateLimited, "Rate limit exceeded"))
			return
		}
		c.Next()
	}
}
