package middleware

import (
	"context"
	"sync"
	"time"

	"docbrain/internal/auth"
	"docbrain/internal/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond float64       // 每秒请求数
	BurstSize         int           // 突发容量
	IdleTTL           time.Duration // 闲置多久后回收
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2,
		BurstSize:         10,
		IdleTTL:           10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按用户（未登录时按 IP）限流
type RateLimiter struct {
	config  RateLimiterConfig
	mu      sync.Mutex
	clients map[string]*limiterEntry
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 || config.BurstSize <= 0 {
		config = DefaultRateLimiterConfig()
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		clients: make(map[string]*limiterEntry),
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Run 定期回收闲置的客户端，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.config.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > rl.config.IdleTTL {
			delete(rl.clients, key)
		}
	}
}

// RateLimitMiddleware 限流中间件，放在认证之后使用
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id, err := auth.RequireAuth(c.Request.Context()); err == nil {
			key = "uid:" + id.UID
		}

		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			common.AbortWithError(c, common.CodeRateLimited, "")
			return
		}

		c.Next()
	}
}
