package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"docbrain/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger 访问日志；字段按路由模板记录，5xx 记为 Warn
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.WithContext(c.Request.Context())
		if status >= http.StatusInternalServerError {
			log.Warn("HTTP 请求", fields...)
			return
		}
		log.Info("HTTP 请求", fields...)
	}
}

// CORSOptions 跨域配置；Origins 为空时允许任意来源
type CORSOptions struct {
	Origins []string
	Headers []string
}

// CORSOptionsFromEnv 读取 CORS_ALLOW_ORIGINS / CORS_ALLOW_HEADERS
func CORSOptionsFromEnv() CORSOptions {
	return CORSOptions{
		Origins: getEnvList("CORS_ALLOW_ORIGINS"),
		Headers: defaultIfEmpty(getEnvList("CORS_ALLOW_HEADERS"), []string{
			"Content-Type", "Content-Length", "Authorization", "Accept", "Origin",
			"X-Request-ID", "X-Trace-ID",
		}),
	}
}

// CORS 跨域中间件，配置在启动时解析一次
func CORS(opts CORSOptions) gin.HandlerFunc {
	allowHeaders := strings.Join(opts.Headers, ", ")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case len(opts.Origins) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(opts.Origins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Trace-ID")
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
