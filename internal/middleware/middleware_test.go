package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docbrain/internal/auth"
	"docbrain/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.String(http.StatusOK, GetRequestID(ctx)+"|"+logger.GetTraceID(ctx))
	})

	t.Run("生成新的请求 ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		id := w.Header().Get(HeaderRequestID)
		assert.NotEmpty(t, id)
		assert.Equal(t, id+"|"+id, w.Body.String())
	})

	t.Run("沿用上游的 ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-1")
		req.Header.Set(HeaderTraceID, "trace-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-1|trace-1", w.Body.String())
		assert.Equal(t, "trace-1", w.Header().Get(HeaderTraceID))
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("超过突发容量后拒绝", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 2})
		assert.True(t, rl.Allow("a"))
		assert.True(t, rl.Allow("a"))
		assert.False(t, rl.Allow("a"))
		// 不同客户端互不影响
		assert.True(t, rl.Allow("b"))
	})

	t.Run("回收闲置客户端", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
		rl.Allow("a")
		rl.sweep(time.Now().Add(2 * time.Minute))
		assert.Empty(t, rl.clients)
	})

	t.Run("按用户限流", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1})
		router := gin.New()
		router.Use(func(c *gin.Context) {
			uid := c.GetHeader("X-Test-User")
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), auth.Identity{UID: uid}))
		}, RateLimitMiddleware(rl))
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		do := func(uid string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Test-User", uid)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			return w.Code
		}

		assert.Equal(t, http.StatusOK, do("user-1"))
		assert.Equal(t, http.StatusTooManyRequests, do("user-1"))
		assert.Equal(t, http.StatusOK, do("user-2"))
	})
}
